// Package openapi builds the OpenAPI document served at /openapi.json.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Info holds the inputs of Generate.
type Info struct {
	Version string
	BaseURL string

	// Auth adds the bearer scheme and marks /api/v1 operations as secured.
	Auth bool
}

// Generate returns the OpenAPI 3.1 document describing the HTTP API.
func Generate(info Info) *openapi3.T {
	if info.Version == "" {
		info.Version = "dev"
	}

	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "NL2SQL API",
			Description: "Turns natural-language questions into validated SQL and runs it against saved sources or uploaded database files.",
			Version:     info.Version,
		},
	}
	if info.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: info.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	var secured *openapi3.SecurityRequirements
	if info.Auth {
		doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		}
		secured = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	}

	doc.Paths = openapi3.NewPaths()
	addSystemPaths(doc)
	addPipelinePaths(doc, secured)
	addSourcePaths(doc, secured)
	addHistoryPaths(doc, secured)
	return doc
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addSystemPaths(doc *openapi3.T) {
	status := obj(openapi3.Schemas{"status": str("")})
	doc.Paths.Set("/healthz", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{"system"},
		Summary:     "Liveness check",
		OperationID: "healthz",
		Responses:   newResponses("200", "Process is up", status),
	}})
	doc.Paths.Set("/readyz", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{"system"},
		Summary:     "Readiness check",
		Description: "Pings the history store and every open source pool.",
		OperationID: "readyz",
		Responses: newResponses("200", "Ready", obj(openapi3.Schemas{
			"ready":  boolean(),
			"checks": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
		}), "503"),
	}})
}

func addPipelinePaths(doc *openapi3.T, secured *openapi3.SecurityRequirements) {
	pipelineErrors := []string{"400", "404", "422", "429", "502", "503", "504"}

	doc.Paths.Set("/api/v1/providers", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{"pipeline"},
		Summary:     "List model providers",
		OperationID: "listProviders",
		Security:    secured,
		Responses:   newResponses("200", "Providers and whether they are configured", list(ref("Provider"))),
	}})

	doc.Paths.Set("/api/v1/schema", &openapi3.PathItem{Post: &openapi3.Operation{
		Tags:        []string{"pipeline"},
		Summary:     "Read the schema of a source",
		Description: "Introspects a saved source or an uploaded SQLite/DuckDB file.",
		OperationID: "getSchema",
		Security:    secured,
		RequestBody: pipelineBody(),
		Responses:   newResponses("200", "Canonical schema", list(ref("Table")), pipelineErrors...),
	}})

	doc.Paths.Set("/api/v1/analyze", &openapi3.PathItem{Post: &openapi3.Operation{
		Tags:        []string{"pipeline"},
		Summary:     "Analyze the schema of a source",
		Description: "Checks the schema for first, second and third normal form problems. With row_counts or sample_rows each table is also counted or sampled.",
		OperationID: "analyzeSchema",
		Security:    secured,
		RequestBody: pipelineBody(),
		Responses:   newResponses("200", "Normalization report", ref("AnalysisReport"), pipelineErrors...),
	}})

	doc.Paths.Set("/api/v1/generate", &openapi3.PathItem{Post: &openapi3.Operation{
		Tags:        []string{"pipeline"},
		Summary:     "Generate SQL from a question",
		Description: "Composes a prompt from the schema, asks the provider and validates the statement. Nothing is executed.",
		OperationID: "generateSQL",
		Security:    secured,
		RequestBody: pipelineBody(),
		Responses:   newResponses("200", "Validated statement", ref("Answer"), pipelineErrors...),
	}})

	doc.Paths.Set("/api/v1/execute", &openapi3.PathItem{Post: &openapi3.Operation{
		Tags:        []string{"pipeline"},
		Summary:     "Validate and execute SQL",
		OperationID: "executeSQL",
		Security:    secured,
		RequestBody: pipelineBody(),
		Responses:   newResponses("200", "Result rows", ref("ExecutionResult"), pipelineErrors...),
	}})

	doc.Paths.Set("/api/v1/ask", &openapi3.PathItem{Post: &openapi3.Operation{
		Tags:        []string{"pipeline"},
		Summary:     "Answer a question",
		Description: "Generates a statement and runs it unless execute is false.",
		OperationID: "ask",
		Security:    secured,
		RequestBody: pipelineBody(),
		Responses:   newResponses("200", "Statement and result", ref("Answer"), pipelineErrors...),
	}})
}

func addSourcePaths(doc *openapi3.T, secured *openapi3.SecurityRequirements) {
	nameParam := openapi3.Parameters{
		&openapi3.ParameterRef{Value: openapi3.NewPathParameter("name").
			WithDescription("Source name.").
			WithSchema(openapi3.NewStringSchema())},
	}

	doc.Paths.Set("/api/v1/sources", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"sources"},
			Summary:     "List saved sources",
			Description: "Passwords are omitted and DSN credentials masked.",
			OperationID: "listSources",
			Security:    secured,
			Responses:   newResponses("200", "Saved sources", list(ref("Source"))),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"sources"},
			Summary:     "Save a source",
			OperationID: "createSource",
			Security:    secured,
			RequestBody: &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
				Required: true,
				Content:  openapi3.NewContentWithJSONSchemaRef(ref("Source")),
			}},
			Responses: newResponses("201", "Created source", ref("Source"), "400", "409"),
		},
	})

	doc.Paths.Set("/api/v1/sources/{name}", &openapi3.PathItem{Delete: &openapi3.Operation{
		Tags:        []string{"sources"},
		Summary:     "Delete a saved source",
		OperationID: "deleteSource",
		Security:    secured,
		Parameters:  nameParam,
		Responses: newResponses("200", "Deleted", obj(openapi3.Schemas{
			"success": boolean(),
			"message": str(""),
		}), "404"),
	}})

	doc.Paths.Set("/api/v1/sources/{name}/test", &openapi3.PathItem{Post: &openapi3.Operation{
		Tags:        []string{"sources"},
		Summary:     "Test a saved source",
		OperationID: "testSource",
		Security:    secured,
		Parameters:  nameParam,
		Responses: newResponses("200", "Connection succeeded", obj(openapi3.Schemas{
			"success":    boolean(),
			"message":    str(""),
			"latency_ms": integer("int64"),
		}), "404", "502", "503"),
	}})
}

func addHistoryPaths(doc *openapi3.T, secured *openapi3.SecurityRequirements) {
	doc.Paths.Set("/api/v1/history", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{"history"},
		Summary:     "List recent requests",
		OperationID: "listHistory",
		Security:    secured,
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{Value: openapi3.NewQueryParameter("source").
				WithDescription("Only requests against this source.").
				WithSchema(openapi3.NewStringSchema())},
			&openapi3.ParameterRef{Value: openapi3.NewQueryParameter("stage").
				WithDescription("Only requests that ended in this stage (done, rejected, failed).").
				WithSchema(openapi3.NewStringSchema())},
			&openapi3.ParameterRef{Value: openapi3.NewQueryParameter("limit").
				WithDescription("Maximum records to return (1-1000, default 50).").
				WithSchema(openapi3.NewIntegerSchema())},
		},
		Responses: newResponses("200", "History records, newest first", list(ref("HistoryRecord"))),
	}})

	doc.Paths.Set("/api/v1/history/{id}", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{"history"},
		Summary:     "Get one request",
		OperationID: "getHistory",
		Security:    secured,
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").
				WithDescription("Request id.").
				WithSchema(openapi3.NewStringSchema())},
		},
		Responses: newResponses("200", "History record", ref("HistoryRecord"), "404"),
	}})
}

// pipelineBody accepts either JSON naming a saved source or a multipart
// upload of a database file.
func pipelineBody() *openapi3.RequestBodyRef {
	upload := obj(openapi3.Schemas{
		"db_file":     {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "binary"}},
		"driver":      str("sqlite or duckdb; detected from the file header when omitted."),
		"question":    str(""),
		"provider":    str(""),
		"sql":         str(""),
		"row_limit":   integer("int32"),
		"timeout_ms":  integer("int32"),
		"execute":     boolean(),
		"row_counts":  boolean(),
		"sample_rows": integer("int32"),
	}, "db_file")

	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Required: true,
		Content: openapi3.Content{
			"application/json":    &openapi3.MediaType{Schema: ref("PipelineRequest")},
			"multipart/form-data": &openapi3.MediaType{Schema: upload},
		},
	}}
}

// ─── Components ─────────────────────────────────────────────────────────────

func componentSchemas() openapi3.Schemas {
	return openapi3.Schemas{
		"ErrorResponse": obj(openapi3.Schemas{
			"error": obj(openapi3.Schemas{
				"code":    integer("int32"),
				"kind":    str("Error kind, e.g. unsafe_statement or execution_timeout."),
				"rule":    str("Validator rule that rejected the statement."),
				"message": str(""),
				"context": {Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			}, "code", "message"),
		}, "error"),

		"PipelineRequest": obj(openapi3.Schemas{
			"source":      str("Saved source name."),
			"question":    str("Natural-language question (generate, ask)."),
			"provider":    str("Provider name; defaults to the configured provider."),
			"sql":         str("Statement to validate and run (execute)."),
			"row_limit":   integer("int32"),
			"timeout_ms":  integer("int32"),
			"execute":     boolean(),
			"row_counts":  boolean(),
			"sample_rows": integer("int32"),
		}, "source"),

		"Column": obj(openapi3.Schemas{
			"name":           str(""),
			"type":           columnTypeSchema(),
			"native_type":    str(""),
			"is_primary_key": boolean(),
			"is_nullable":    boolean(),
		}, "name", "type"),

		"ForeignKey": obj(openapi3.Schemas{
			"column":            str(""),
			"referenced_table":  str(""),
			"referenced_column": str(""),
		}, "column", "referenced_table", "referenced_column"),

		"Table": obj(openapi3.Schemas{
			"table_name":      str(""),
			"columns":         array(ref("Column")),
			"foreign_keys":    array(ref("ForeignKey")),
			"schema_inferred": boolean(),
		}, "table_name", "columns", "foreign_keys"),

		"Statement": obj(openapi3.Schemas{
			"sql":    str(""),
			"kind":   str("Statement kind, e.g. select."),
			"tables": array(str("")),
		}, "sql", "kind"),

		"ExecutionResult": obj(openapi3.Schemas{
			"headers":   array(str("")),
			"rows":      array(array(cellSchema())),
			"truncated": boolean(),
			"row_count": integer("int32"),
		}, "headers", "rows", "truncated", "row_count"),

		"Answer": obj(openapi3.Schemas{
			"request_id": str(""),
			"generation": obj(openapi3.Schemas{
				"candidate": obj(openapi3.Schemas{
					"text":      str(""),
					"confident": boolean(),
				}),
				"statement":      ref("Statement"),
				"provider":       str(""),
				"omitted_tables": array(str("")),
			}),
			"result": ref("ExecutionResult"),
		}, "request_id"),

		"NormalForm": obj(openapi3.Schemas{
			"compliant": boolean(),
			"violations": array(obj(openapi3.Schemas{
				"table":   str(""),
				"columns": array(str("")),
				"issue":   str(""),
			}, "table", "issue")),
		}, "compliant", "violations"),

		"AnalysisReport": obj(openapi3.Schemas{
			"schema": array(ref("Table")),
			"normalization_analysis": obj(openapi3.Schemas{
				"tables_count":        integer("int32"),
				"relationships_count": integer("int32"),
				"first_normal_form":   ref("NormalForm"),
				"second_normal_form":  ref("NormalForm"),
				"third_normal_form":   ref("NormalForm"),
				"recommendations":     array(str("")),
			}),
			"tables": array(obj(openapi3.Schemas{
				"table_name": str(""),
				"row_count":  integer("int64"),
				"sample":     ref("ExecutionResult"),
				"error":      str(""),
			}, "table_name")),
		}, "schema", "normalization_analysis"),

		"Source": obj(openapi3.Schemas{
			"name":            str(""),
			"label":           str(""),
			"driver":          str("sqlite, duckdb, mysql, postgres, mssql, snowflake or mongo."),
			"dsn":             str(""),
			"path":            str(""),
			"host":            str(""),
			"port":            integer("int32"),
			"user":            str(""),
			"password":        {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "password", WriteOnly: true}},
			"database":        str(""),
			"schema":          str(""),
			"allow_mutations": boolean(),
		}, "name", "driver"),

		"HistoryRecord": obj(openapi3.Schemas{
			"id":          str(""),
			"source":      str(""),
			"driver":      str(""),
			"question":    str(""),
			"provider":    str(""),
			"sql":         str(""),
			"stage":       str("Last stage reached: done, rejected or failed."),
			"error_kind":  str(""),
			"error_rule":  str(""),
			"row_count":   integer("int32"),
			"truncated":   boolean(),
			"duration_ms": integer("int64"),
			"created_at":  {Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}},
		}, "id", "stage"),

		"Provider": obj(openapi3.Schemas{
			"name":      str(""),
			"available": boolean(),
			"reason":    str(""),
		}, "name", "available"),
	}
}

// ─── Schema Helpers ─────────────────────────────────────────────────────────

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func obj(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func array(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: items,
	}}
}

func str(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: description}}
}

func integer(format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: format}}
}

func boolean() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

// list wraps items in the {resource, meta} list envelope.
func list(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return obj(openapi3.Schemas{
		"resource": array(items),
		"meta":     metaSchema(),
	})
}

// metaSchema returns the schema for the "meta" field in list responses.
func metaSchema() *openapi3.SchemaRef {
	return obj(openapi3.Schemas{
		"count":   {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32", Description: "Number of records returned."}},
		"limit":   {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32", Description: "Maximum records requested."}},
		"took_ms": {Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double"}},
	})
}

var errorDescriptions = map[string]string{
	"400": "Invalid request or execution error",
	"401": "Missing or invalid bearer token",
	"404": "Not found",
	"409": "Already exists",
	"422": "Synthesis failed or statement rejected",
	"429": "Rate limit exceeded",
	"500": "Internal server error",
	"502": "Could not connect to or introspect the source",
	"503": "Connection pool exhausted or not ready",
	"504": "Statement timed out",
}

// newResponses builds a Responses map with a success response, the listed
// error statuses, and 401/500 which any route may return.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef, errorCodes ...string) *openapi3.Responses {
	responses := openapi3.NewResponsesWithCapacity(len(errorCodes) + 3)

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref("ErrorResponse")
	codes := append(append([]string{}, errorCodes...), "401", "500")
	for _, code := range codes {
		desc := errorDescriptions[code]
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
