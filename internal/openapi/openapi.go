// Package openapi models the OpenAPI document a service publishes and
// serializes it to JSON or YAML files.
package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Version is the OpenAPI specification version emitted by New.
const Version = "3.1.0"

// Document is the root OpenAPI object.
type Document struct {
	OpenAPI string              `json:"openapi" yaml:"openapi"`
	Info    Info                `json:"info" yaml:"info"`
	Servers []Server            `json:"servers,omitempty" yaml:"servers,omitempty"`
	Paths   map[string]PathItem `json:"paths" yaml:"paths"`
}

// Info carries the service metadata.
type Info struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string   `json:"version" yaml:"version"`
	Contact     *Contact `json:"contact,omitempty" yaml:"contact,omitempty"`
	License     *License `json:"license,omitempty" yaml:"license,omitempty"`
}

// Contact information for the exposed API.
type Contact struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	URL   string `json:"url,omitempty" yaml:"url,omitempty"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

// License information for the exposed API.
type License struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Server is a base URL the API is reachable under.
type Server struct {
	URL string `json:"url" yaml:"url"`
}

// PathItem maps lower-case HTTP methods to operations.
type PathItem map[string]Operation

// Operation describes a single API operation on a path.
type Operation struct {
	Summary     string              `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	OperationID string              `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	Tags        []string            `json:"tags,omitempty" yaml:"tags,omitempty"`
	Responses   map[string]Response `json:"responses" yaml:"responses"`
}

// Response describes a single response of an operation.
type Response struct {
	Description string               `json:"description" yaml:"description"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

// MediaType holds the schema for one content type.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Schema is the subset of JSON Schema used by the built-in routes.
type Schema struct {
	Ref        string             `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Type       string             `json:"type,omitempty" yaml:"type,omitempty"`
	Format     string             `json:"format,omitempty" yaml:"format,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Required   []string           `json:"required,omitempty" yaml:"required,omitempty"`
}

// New returns an empty document for the given metadata.
func New(info Info) *Document {
	return &Document{
		OpenAPI: Version,
		Info:    info,
		Paths:   map[string]PathItem{},
	}
}

// AddOperation registers op under path and method. Operations without
// responses get a default 200 response, and a missing operation id is
// derived from the method and path.
func (d *Document) AddOperation(method, path string, op Operation) {
	method = strings.ToLower(method)
	if len(op.Responses) == 0 {
		op.Responses = map[string]Response{
			"200": {Description: "Successful Response"},
		}
	}
	if op.OperationID == "" {
		op.OperationID = operationID(method, path)
	}

	item, ok := d.Paths[path]
	if !ok {
		item = PathItem{}
		d.Paths[path] = item
	}
	item[method] = op
}

// MarshalJSON encodes the document with two-space indentation.
func MarshalJSON(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalYAML encodes the document as YAML with two-space indentation.
func MarshalYAML(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes doc to path, replacing any existing file. Files ending in
// .yaml or .yml are written as YAML, everything else as JSON.
func WriteFile(path string, doc *Document) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = MarshalYAML(doc)
	} else {
		data, err = MarshalJSON(doc)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write openapi document: %w", err)
	}
	return nil
}

// ReadFile loads a document previously written by WriteFile.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read openapi document: %w", err)
	}

	var doc Document
	if isYAML(path) {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	return &doc, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func operationID(method, path string) string {
	replacer := strings.NewReplacer("/", "_", "{", "", "}", "", "-", "_", ".", "_")
	trimmed := strings.Trim(replacer.Replace(path), "_")
	if trimmed == "" {
		trimmed = "root"
	}
	return method + "_" + trimmed
}
