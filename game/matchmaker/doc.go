// Package matchmaker owns the registry of matches and the invitation flow.
//
// Invitations are stateless: Invite signs {userName, matchId, role} into a
// token and pushes it to the invitee inbox, failing when the invitee is not
// listening. Join and Reject decode the token again, so any process sharing
// the signing secret can redeem it.
//
// Every operation requires an authenticated session; the current match is
// recorded on the session itself.
package matchmaker
