package graph

import (
	"github.com/graphql-go/graphql"
	"github.com/wricardo/tictactoe/game/engine"
)

func nonNull(t graphql.Output) graphql.Output {
	return graphql.NewNonNull(t)
}

func stringArg() *graphql.ArgumentConfig {
	return &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)}
}

func newSchema() (graphql.Schema, error) {
	signEnum := graphql.NewEnum(graphql.EnumConfig{
		Name: "Sign",
		Values: graphql.EnumValueConfigMap{
			"X": &graphql.EnumValueConfig{Value: engine.SignX},
			"O": &graphql.EnumValueConfig{Value: engine.SignO},
		},
	})

	roleEnum := graphql.NewEnum(graphql.EnumConfig{
		Name: "ParticipantRole",
		Values: graphql.EnumValueConfigMap{
			"Player":    &graphql.EnumValueConfig{Value: engine.RolePlayer},
			"Spectator": &graphql.EnumValueConfig{Value: engine.RoleSpectator},
		},
	})

	userType := graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"userName": &graphql.Field{Type: nonNull(graphql.String), Resolve: resolveUserName},
		},
	})

	participantType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Participant",
		Fields: graphql.Fields{
			"user": &graphql.Field{Type: nonNull(userType), Resolve: resolveParticipantUser},
			"sign": &graphql.Field{Type: signEnum, Resolve: resolveParticipantSign},
			"role": &graphql.Field{Type: nonNull(roleEnum), Resolve: resolveParticipantRole},
		},
	})

	matchType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Match",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: nonNull(graphql.String), Resolve: resolveMatchID},
			"participants": &graphql.Field{Type: nonNull(graphql.NewList(nonNull(participantType))), Resolve: resolveMatchParticipants},
			"board":        &graphql.Field{Type: nonNull(graphql.NewList(signEnum)), Resolve: resolveMatchBoard},
			"next":         &graphql.Field{Type: nonNull(participantType), Resolve: resolveMatchNext},
			"winner":       &graphql.Field{Type: participantType, Resolve: resolveMatchWinner},
			"ended":        &graphql.Field{Type: nonNull(graphql.Boolean), Resolve: resolveMatchEnded},
			"step": &graphql.Field{
				Type:    nonNull(graphql.Boolean),
				Args:    graphql.FieldConfigArgument{"cell": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)}},
				Resolve: resolveMatchStep,
			},
		},
	})

	lobbyType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Lobby",
		Fields: graphql.Fields{
			"list": &graphql.Field{Type: nonNull(graphql.NewList(nonNull(userType))), Resolve: resolveLobbyList},
		},
	})

	timeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Time",
		Fields: graphql.Fields{
			"local": &graphql.Field{Type: nonNull(graphql.String), Resolve: resolveTimeLocal},
		},
	})

	authType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Auth",
		Fields: graphql.Fields{
			"login": &graphql.Field{
				Type:    nonNull(graphql.String),
				Args:    graphql.FieldConfigArgument{"userName": stringArg(), "password": stringArg()},
				Resolve: resolveLogin,
			},
			"signin": &graphql.Field{
				Type:    nonNull(graphql.String),
				Args:    graphql.FieldConfigArgument{"token": stringArg()},
				Resolve: resolveSignin,
			},
			"register": &graphql.Field{
				Type: nonNull(graphql.String),
				Args: graphql.FieldConfigArgument{
					"userName":  stringArg(),
					"password1": stringArg(),
					"password2": stringArg(),
				},
				Resolve: resolveRegister,
			},
			"password": &graphql.Field{
				Type: nonNull(graphql.String),
				Args: graphql.FieldConfigArgument{
					"userName":    stringArg(),
					"oldPassword": stringArg(),
					"password1":   stringArg(),
					"password2":   stringArg(),
				},
				Resolve: resolvePassword,
			},
			"authenticated": &graphql.Field{Type: nonNull(graphql.String), Resolve: resolveAuthenticated},
		},
	})

	matchMakerType := graphql.NewObject(graphql.ObjectConfig{
		Name: "MatchMaker",
		Fields: graphql.Fields{
			"create": &graphql.Field{Type: nonNull(matchType), Resolve: resolveCreate},
			"invite": &graphql.Field{
				Type: nonNull(graphql.String),
				Args: graphql.FieldConfigArgument{
					"userName": stringArg(),
					"role":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(roleEnum)},
				},
				Resolve: resolveInvite,
			},
			"join": &graphql.Field{
				Type:    nonNull(graphql.Boolean),
				Args:    graphql.FieldConfigArgument{"token": stringArg()},
				Resolve: resolveJoin,
			},
			"reject": &graphql.Field{
				Type:    nonNull(graphql.Boolean),
				Args:    graphql.FieldConfigArgument{"token": stringArg()},
				Resolve: resolveReject,
			},
			"leave": &graphql.Field{Type: nonNull(graphql.Boolean), Resolve: resolveLeave},
		},
	})

	pingType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Ping",
		Fields: graphql.Fields{
			"payload": &graphql.Field{Type: nonNull(graphql.String)},
		},
	})

	inviteType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Invite",
		Fields: graphql.Fields{
			"from":    &graphql.Field{Type: nonNull(userType)},
			"matchId": &graphql.Field{Type: nonNull(graphql.String)},
			"role":    &graphql.Field{Type: nonNull(roleEnum)},
			"token":   &graphql.Field{Type: nonNull(graphql.String)},
		},
	})

	rejectType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Reject",
		Fields: graphql.Fields{
			"from":    &graphql.Field{Type: nonNull(userType)},
			"matchId": &graphql.Field{Type: nonNull(graphql.String)},
			"role":    &graphql.Field{Type: nonNull(roleEnum)},
		},
	})

	messageUnion := graphql.NewUnion(graphql.UnionConfig{
		Name:  "Message",
		Types: []*graphql.Object{inviteType, pingType, rejectType},
		ResolveType: func(p graphql.ResolveTypeParams) *graphql.Object {
			switch p.Value.(type) {
			case engine.Invite:
				return inviteType
			case engine.Reject:
				return rejectType
			default:
				return pingType
			}
		},
	})

	rootFields := func() graphql.Fields {
		return graphql.Fields{
			"auth":        &graphql.Field{Type: nonNull(authType), Resolve: resolveRoot},
			"match":       &graphql.Field{Type: matchType, Resolve: resolveLease},
			"match_maker": &graphql.Field{Type: nonNull(matchMakerType), Resolve: resolveRoot},
		}
	}

	queryFields := rootFields()
	queryFields["lobby"] = &graphql.Field{Type: nonNull(lobbyType), Resolve: resolveLobby}
	queryFields["time"] = &graphql.Field{Type: nonNull(timeType), Resolve: resolveTime}

	intervalArgs := graphql.FieldConfigArgument{
		"interval": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: rootFields()}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				"authenticated": &graphql.Field{
					Type:      nonNull(graphql.String),
					Args:      intervalArgs,
					Subscribe: subscribeAuthenticated,
					Resolve:   resolveSource,
				},
				"inbox": &graphql.Field{
					Type:      nonNull(messageUnion),
					Subscribe: subscribeInbox,
					Resolve:   resolveSource,
				},
				"lobby": &graphql.Field{
					Type:      nonNull(lobbyType),
					Subscribe: subscribeLobby,
					Resolve:   resolveLobbyEvent,
				},
				"match": &graphql.Field{
					Type:      nonNull(matchType),
					Subscribe: subscribeMatch,
					Resolve:   resolveSource,
				},
				"timer": &graphql.Field{
					Type:      nonNull(timeType),
					Args:      intervalArgs,
					Subscribe: subscribeTimer,
					Resolve:   resolveTimeEvent,
				},
			},
		}),
	})
}
