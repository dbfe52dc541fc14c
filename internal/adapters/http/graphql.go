package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
)

// buildSchema creates the GraphQL schema wired to the run registry.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lon": &graphql.Field{Type: graphql.Float},
			"min_lat": &graphql.Field{Type: graphql.Float},
			"max_lon": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
		},
	})

	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	skippedType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SkippedStructure",
		Fields: graphql.Fields{
			"id":     &graphql.Field{Type: graphql.String},
			"kind":   &graphql.Field{Type: graphql.String},
			"reason": &graphql.Field{Type: graphql.String},
		},
	})

	runType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Run",
		Fields: graphql.Fields{
			"id":                  &graphql.Field{Type: graphql.String},
			"bounds":              &graphql.Field{Type: boundsType},
			"status":              &graphql.Field{Type: graphql.String},
			"stage":               &graphql.Field{Type: graphql.String},
			"failed_stage":        &graphql.Field{Type: graphql.String},
			"error":               &graphql.Field{Type: graphql.String},
			"reference_elevation": &graphql.Field{Type: graphql.Float},
			"terrain_vertices":    &graphql.Field{Type: graphql.Int},
			"terrain_faces":       &graphql.Field{Type: graphql.Int},
			"buildings_aligned":   &graphql.Field{Type: graphql.Int},
			"telecom_aligned":     &graphql.Field{Type: graphql.Int},
			"skipped":             &graphql.Field{Type: graphql.NewList(skippedType)},
			"outputs":             &graphql.Field{Type: graphql.NewList(graphql.String)},
			"started_at":          &graphql.Field{Type: graphql.DateTime},
			"finished_at":         &graphql.Field{Type: graphql.DateTime},
		},
	})

	transmitterType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Transmitter",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"run_id":       &graphql.Field{Type: graphql.String},
			"location":     &graphql.Field{Type: geoPointType},
			"height_m":     &graphql.Field{Type: graphql.Float},
			"ground_z":     &graphql.Field{Type: graphql.Float},
			"model":        &graphql.Field{Type: graphql.String},
			"type":         &graphql.Field{Type: graphql.String},
			"power_dbm":    &graphql.Field{Type: graphql.Float},
			"tilt":         &graphql.Field{Type: graphql.Float},
			"azimuth":      &graphql.Field{Type: graphql.Float},
			"frequency_hz": &graphql.Field{Type: graphql.Float},
			"active_users": &graphql.Field{Type: graphql.Int},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"runs": &graphql.Field{
				Type:        graphql.NewList(runType),
				Description: "List generation runs, newest first",
				Args: graphql.FieldConfigArgument{
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Runs == nil {
						return nil, errNoRegistry
					}
					runs, _, err := deps.Runs.List(p.Context, p.Args["limit"].(int), p.Args["offset"].(int))
					return runs, err
				},
			},
			"run": &graphql.Field{
				Type:        runType,
				Description: "Get a run by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Runs == nil {
						return nil, errNoRegistry
					}
					return deps.Runs.Get(p.Context, p.Args["id"].(string))
				},
			},
			"transmitters": &graphql.Field{
				Type:        graphql.NewList(transmitterType),
				Description: "Transmitters provisioned by runs",
				Args: graphql.FieldConfigArgument{
					"run_id": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Runs == nil {
						return nil, errNoRegistry
					}
					return deps.Runs.Transmitters(p.Context, p.Args["run_id"].(string), p.Args["limit"].(int), p.Args["offset"].(int))
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

var errNoRegistry = errors.New("run registry not available")

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
