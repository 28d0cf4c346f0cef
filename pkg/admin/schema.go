package admin

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/session"
)

// timeField resolves a time.Time struct field as RFC 3339
func timeField(get func(src any) time.Time) *graphql.Field {
	return &graphql.Field{
		Type: graphql.String,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			t := get(p.Source)
			if t.IsZero() {
				return nil, nil
			}
			return t.UTC().Format(time.RFC3339Nano), nil
		},
	}
}

var peerType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Peer",
	Fields: graphql.Fields{
		"id":     &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"host":   &graphql.Field{Type: graphql.String},
		"port":   &graphql.Field{Type: graphql.Int},
		"status": &graphql.Field{
			Type:    graphql.String,
			Resolve: func(p graphql.ResolveParams) (any, error) { return string(p.Source.(cluster.PeerRecord).Status), nil },
		},
		"lastHeartbeat": timeField(func(src any) time.Time {
			return src.(cluster.PeerRecord).LastHeartbeat
		}),
	},
})

var claimType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Claim",
	Fields: graphql.Fields{
		"namespace": &graphql.Field{
			Type:    graphql.String,
			Resolve: func(p graphql.ResolveParams) (any, error) { return string(p.Source.(ownership.Claim).Namespace), nil },
		},
		"key":       &graphql.Field{Type: graphql.String},
		"peerId":    &graphql.Field{Type: graphql.ID},
		"claimedAt": timeField(func(src any) time.Time {
			return src.(ownership.Claim).ClaimedAt
		}),
	},
})

var userType = graphql.NewObject(graphql.ObjectConfig{
	Name: "User",
	Fields: graphql.Fields{
		"id":       &graphql.Field{Type: graphql.ID},
		"name":     &graphql.Field{Type: graphql.String},
		"connId":   &graphql.Field{Type: graphql.String},
		"joinedAt": timeField(func(src any) time.Time { return src.(session.UserInfo).JoinedAt }),
		"lastPing": timeField(func(src any) time.Time { return src.(session.UserInfo).LastPing }),
	},
})

var sheetType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Sheet",
	Fields: graphql.Fields{
		"id":      &graphql.Field{Type: graphql.ID},
		"nodes":   &graphql.Field{Type: graphql.Int},
		"edges":   &graphql.Field{Type: graphql.Int},
		"history": &graphql.Field{Type: graphql.Int},
		"users":   &graphql.Field{Type: graphql.NewList(userType)},
	},
})

var graphType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Graph",
	Fields: graphql.Fields{
		"key":            &graphql.Field{Type: graphql.ID},
		"nextIdentifier": &graphql.Field{Type: graphql.Int},
		"sheets":         &graphql.Field{Type: graphql.NewList(sheetType)},
		"loadedAt":       timeField(func(src any) time.Time { return src.(session.GraphInfo).LoadedAt }),
	},
})

func namespaceArg() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"namespace": &graphql.ArgumentConfig{
			Type:         graphql.String,
			DefaultValue: string(ownership.NamespaceGraph),
		},
	}
}

// NewSchema builds the admin GraphQL schema over src
func NewSchema(src Sources) (graphql.Schema, error) {
	if err := src.validate(); err != nil {
		return graphql.Schema{}, err
	}

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"health": &graphql.Field{
				Type:    graphql.String,
				Resolve: func(graphql.ResolveParams) (any, error) { return "ok", nil },
			},
			"self": &graphql.Field{
				Type:    peerType,
				Resolve: func(graphql.ResolveParams) (any, error) { return src.Membership.Self(), nil },
			},
			"peers": &graphql.Field{
				Type:    graphql.NewList(peerType),
				Resolve: func(graphql.ResolveParams) (any, error) { return src.Membership.Peers(), nil },
			},
			"claims": &graphql.Field{
				Type: graphql.NewList(claimType),
				Args: namespaceArg(),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					ns := ownership.Namespace(p.Args["namespace"].(string))
					return src.Claims.Claims(p.Context, ns)
				},
			},
			"owned": &graphql.Field{
				Type: graphql.NewList(graphql.String),
				Args: namespaceArg(),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					ns := ownership.Namespace(p.Args["namespace"].(string))
					if !ns.Valid() {
						return nil, ownership.ErrUnknownNamespace
					}
					return src.Claims.Owned(ns), nil
				},
			},
			"graphs": &graphql.Field{
				Type:    graphql.NewList(graphType),
				Resolve: func(graphql.ResolveParams) (any, error) { return src.Sessions.Snapshot(), nil },
			},
			"graph": &graphql.Field{
				Type: graphType,
				Args: graphql.FieldConfigArgument{
					"key": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					key := p.Args["key"].(string)
					for _, g := range src.Sessions.Snapshot() {
						if g.Key == key {
							return g, nil
						}
					}
					return nil, nil
				},
			},
			"users": &graphql.Field{
				Type: graphql.Int,
				Resolve: func(graphql.ResolveParams) (any, error) {
					_, users := src.Sessions.Stats()
					return users, nil
				},
			},
			// node is returned as its JSON text since nodes are schemaless
			"node": &graphql.Field{
				Type: graphql.String,
				Args: graphql.FieldConfigArgument{
					"graphKey": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"sheetId":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"nodeId":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					n, ok := src.Sessions.Node(p.Args["graphKey"].(string), p.Args["sheetId"].(string), p.Args["nodeId"].(string))
					if !ok {
						return nil, nil
					}
					data, err := json.Marshal(n)
					if err != nil {
						return nil, err
					}
					return string(data), nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: query})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create admin schema: %w", err)
	}
	return schema, nil
}
