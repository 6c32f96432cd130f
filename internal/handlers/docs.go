package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the Dosimetry Platform API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Dosimetry Platform API",
			"description": "Versioned dosimetry reference data with activation workflow and an auditable dose calculation engine",
			"version":     "1.0.0",
			"contact": map[string]string{
				"name": "Dosimetry Platform Team",
			},
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/calculations": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Run a dose calculation",
					"description": "Resolves environment, looks up the active reference tables, applies corrections, and evaluates the active formula. The completed run is recorded for audit.",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"chamber_type", "beam_quality", "table_type", "energy_mv", "field_size_cm", "depth_cm"},
									"properties": map[string]interface{}{
										"chamber_type":  map[string]string{"type": "string"},
										"beam_quality":  map[string]string{"type": "string"},
										"table_type":    map[string]interface{}{"type": "string", "enum": []string{"pdd", "tpr"}},
										"energy_mv":     map[string]string{"type": "number"},
										"field_size_cm": map[string]string{"type": "number"},
										"depth_cm":      map[string]string{"type": "number"},
										"location":      map[string]string{"type": "string"},
										"t0_c":          map[string]interface{}{"type": "number", "default": 20.0},
										"p0_kpa":        map[string]interface{}{"type": "number", "default": 101.325},
										"meter": map[string]interface{}{
											"type": "object",
											"properties": map[string]interface{}{
												"m_raw":        map[string]string{"type": "number"},
												"reading_unit": map[string]interface{}{"type": "string", "enum": []string{"nC", "pC", "C"}, "default": "nC"},
												"mu_meas":      map[string]string{"type": "number"},
												"m_high":       map[string]string{"type": "number"},
												"m_low":        map[string]string{"type": "number"},
												"v_high":       map[string]string{"type": "number"},
												"v_low":        map[string]string{"type": "number"},
												"m_pos":        map[string]string{"type": "number"},
												"m_neg":        map[string]string{"type": "number"},
												"m_ref":        map[string]string{"type": "number"},
												"p_elec":       map[string]string{"type": "number"},
											},
										},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Calculation completed; warning set when the audit write failed",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"run": map[string]interface{}{
												"type": "object",
												"properties": map[string]interface{}{
													"id":                map[string]string{"type": "string", "format": "uuid"},
													"run_ts":            map[string]string{"type": "string", "format": "date-time"},
													"inputs":            map[string]string{"type": "object"},
													"environment":       map[string]string{"type": "object"},
													"factors":           map[string]string{"type": "object"},
													"dataset_versions":  map[string]string{"type": "object"},
													"formula_version":   map[string]string{"type": "integer"},
													"dose_gy":           map[string]string{"type": "number"},
													"dose_per_100mu_gy": map[string]interface{}{"type": "number", "nullable": true},
													"boundary_clamped":  map[string]string{"type": "boolean"},
												},
											},
											"warning": map[string]string{"type": "string"},
										},
									},
								},
							},
						},
						"400": map[string]string{"description": "Malformed request or failed validation"},
						"409": map[string]string{"description": "A required dataset type or formula has no active version"},
						"422": map[string]string{"description": "Inputs did not match any row of the active reference tables"},
						"503": map[string]string{"description": "Live environmental data unavailable"},
					},
				},
			},
			"/api/admin/datasets": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Upload a dataset version",
					"description": "Validates a CSV or XLSX upload against the dataset type schema and stores it as the next inactive version",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"multipart/form-data": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"dataset_type", "file"},
									"properties": map[string]interface{}{
										"dataset_type": map[string]interface{}{
											"type": "string",
											"enum": []string{"kq_table", "pdd_table", "tpr_table", "chamber_defaults", "environmental_data"},
										},
										"file":       map[string]string{"type": "string", "format": "binary"},
										"notes":      map[string]string{"type": "string"},
										"created_by": map[string]string{"type": "string"},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": map[string]string{"description": "Version created (inactive until activated)"},
						"400": map[string]string{"description": "Schema validation failed; details list every violation"},
					},
				},
				"get": map[string]interface{}{
					"summary":     "List dataset versions",
					"description": "Version history, newest first, filterable by dataset type",
					"parameters": []map[string]interface{}{
						{
							"name":        "dataset_type",
							"in":          "query",
							"description": "Filter by dataset type",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "active",
							"in":          "query",
							"description": "Only active versions when true",
							"required":    false,
							"schema":      map[string]string{"type": "boolean"},
						},
						{
							"name":        "page",
							"in":          "query",
							"description": "Page number (default: 1)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 1},
						},
						{
							"name":        "limit",
							"in":          "query",
							"description": "Records per page (default: 100)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 100},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Paginated version listing"},
					},
				},
			},
			"/api/admin/datasets/{id}/activate": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Activate a dataset version",
					"description": "Atomically makes this version the single active version of its dataset type",
					"parameters": []map[string]interface{}{
						{
							"name":     "id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "integer"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "The activated version"},
						"404": map[string]string{"description": "Unknown version id"},
					},
				},
			},
			"/api/admin/formulas": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Create a formula version",
					"description": "Validates the expression against the allowed variables and stores it as the next inactive version",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"expression"},
									"properties": map[string]interface{}{
										"expression": map[string]string{"type": "string"},
										"variables":  map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}},
										"notes":      map[string]string{"type": "string"},
										"created_by": map[string]string{"type": "string"},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": map[string]string{"description": "Version created (inactive until activated)"},
						"400": map[string]string{"description": "Expression validation failed; details list every violation"},
					},
				},
				"get": map[string]interface{}{
					"summary": "List formula versions",
					"parameters": []map[string]interface{}{
						{
							"name":     "page",
							"in":       "query",
							"required": false,
							"schema":   map[string]interface{}{"type": "integer", "default": 1},
						},
						{
							"name":     "limit",
							"in":       "query",
							"required": false,
							"schema":   map[string]interface{}{"type": "integer", "default": 100},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Paginated version listing"},
					},
				},
			},
			"/api/admin/formulas/{id}/activate": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Activate a formula version",
					"parameters": []map[string]interface{}{
						{
							"name":     "id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "integer"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "The activated version"},
						"404": map[string]string{"description": "Unknown version id"},
					},
				},
			},
			"/api/admin/settings/environment": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Read the environmental data source",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Current source",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"source": map[string]interface{}{"type": "string", "enum": []string{"dataset", "live"}},
										},
									},
								},
							},
						},
					},
				},
				"put": map[string]interface{}{
					"summary": "Switch the environmental data source",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"source"},
									"properties": map[string]interface{}{
										"source": map[string]interface{}{"type": "string", "enum": []string{"dataset", "live"}},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Updated source"},
						"400": map[string]string{"description": "Unknown source"},
					},
				},
			},
			"/api/environment/preview": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Preview environment resolution",
					"description": "Resolves temperature and pressure for a location using the configured source without running a calculation",
					"parameters": []map[string]interface{}{
						{
							"name":     "location",
							"in":       "query",
							"required": false,
							"schema":   map[string]string{"type": "string"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Resolved reading with the dataset version consulted"},
						"503": map[string]string{"description": "Live environmental data unavailable"},
					},
				},
			},
			"/api/runs": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "List calculation runs",
					"description": "Audit history, newest first",
					"parameters": []map[string]interface{}{
						{
							"name":     "page",
							"in":       "query",
							"required": false,
							"schema":   map[string]interface{}{"type": "integer", "default": 1},
						},
						{
							"name":        "limit",
							"in":          "query",
							"description": "Records per page (default: 100, max: 500)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 100},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Paginated run listing"},
					},
				},
			},
			"/api/runs/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Fetch one calculation run",
					"parameters": []map[string]interface{}{
						{
							"name":     "id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "string", "format": "uuid"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "The run record"},
						"404": map[string]string{"description": "Unknown run id"},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Health check",
					"description": "Check if the API is running",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "API is healthy",
							"content": map[string]interface{}{
								"application/json": map[string]interface{}{
									"schema": map[string]interface{}{
										"type": "object",
										"properties": map[string]interface{}{
											"status": map[string]string{"type": "string"},
										},
									},
								},
							},
						},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
