// Package monitor validates incoming API bodies against JSON schemas before
// they reach the domain layer, so schema drift between clients and the
// service surfaces as a structured 400 instead of a half-built request.
package monitor

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Contract names an embedded request schema.
type Contract string

const (
	ContractCreatePayment       Contract = "schemas/create_payment.json"
	ContractCreateMobilePayment Contract = "schemas/create_mobile_payment.json"
)

// ContractMonitor validates request bodies against compiled JSON schemas.
type ContractMonitor struct {
	schemas map[Contract]*gojsonschema.Schema
}

// NewContractMonitor compiles every embedded schema. A schema that fails to
// compile is a build defect, so compilation errors abort construction.
func NewContractMonitor() (*ContractMonitor, error) {
	cm := &ContractMonitor{schemas: make(map[Contract]*gojsonschema.Schema)}
	for _, contract := range []Contract{ContractCreatePayment, ContractCreateMobilePayment} {
		raw, err := schemaFS.ReadFile(string(contract))
		if err != nil {
			return nil, fmt.Errorf("monitor: reading schema %s: %w", contract, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("monitor: compiling schema %s: %w", contract, err)
		}
		cm.schemas[contract] = schema
	}
	return cm, nil
}

// Validate checks a request body against the named contract. It returns true
// when the body conforms, or false plus a list of human-readable violations.
func (cm *ContractMonitor) Validate(contract Contract, body []byte) (bool, []string, error) {
	schema, ok := cm.schemas[contract]
	if !ok {
		return false, nil, fmt.Errorf("monitor: unknown contract %s", contract)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return false, nil, fmt.Errorf("monitor: validation failed: %w", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return false, violations, nil
}

// FormatErrors joins validation errors into a single response message.
func FormatErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	return "validation errors: " + strings.Join(violations, "; ")
}
