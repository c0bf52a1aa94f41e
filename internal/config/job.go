package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/pipeline"
)

//go:embed schema/job-schema.json
var embeddedSchema []byte

const schemaURL = "https://go-etl-pipeline.local/schemas/job/v1/job-schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// ErrInvalidJob is wrapped by every job file that cannot be parsed or
// fails validation. It is itself an invalid request.
var ErrInvalidJob = errors.Wrap(errors.ErrInvalidRequest, "invalid job")

// Problem is one finding against a job document.
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return p.Path + ": " + p.Message
}

// JobError lists everything wrong with a job document.
type JobError struct {
	Source   string
	Problems []Problem
}

func (e *JobError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid job %s", e.Source)
	for _, p := range e.Problems {
		b.WriteString("\n  ")
		b.WriteString(p.String())
	}
	return b.String()
}

func (e *JobError) Unwrap() error { return ErrInvalidJob }

// Schema returns the embedded job schema.
func Schema() []byte {
	return embeddedSchema
}

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(embeddedSchema))
		if err != nil {
			schemaInitErr = errors.Wrap(err, "failed to parse embedded schema")
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaInitErr = errors.Wrap(err, "failed to add schema resource")
			return
		}
		compiledSchema, schemaInitErr = compiler.Compile(schemaURL)
		if schemaInitErr != nil {
			schemaInitErr = errors.Wrap(schemaInitErr, "failed to compile schema")
		}
	})
	return compiledSchema, schemaInitErr
}

// LoadJobFile reads and validates a job file. Files ending in .json are
// parsed as JSON, everything else as YAML.
func LoadJobFile(path string) (model.JobSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return model.JobSpec{}, errors.Wrapf(err, "failed to read job file %s", path)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseJob(content, format, path)
}

// ParseJob parses a YAML or JSON job document, validates it against the
// job schema and then checks that every step and rule can be built.
// source names the document in errors.
func ParseJob(content []byte, format, source string) (model.JobSpec, error) {
	fail := func(path, msg string) (model.JobSpec, error) {
		return model.JobSpec{}, &JobError{Source: source, Problems: []Problem{{Path: path, Message: msg}}}
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return fail("/", "empty document")
	}

	// YAML is a superset of JSON, but JSON documents keep their own parser
	// so syntax errors point at the right place.
	var raw []byte
	switch format {
	case "json":
		raw = content
	case "yaml", "yml":
		var doc any
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return fail("/", "YAML syntax error: "+err.Error())
		}
		normalized, err := json.Marshal(doc)
		if err != nil {
			return fail("/", "cannot represent document as JSON: "+err.Error())
		}
		raw = normalized
	default:
		return model.JobSpec{}, errors.Newf("unsupported job format %q", format)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fail("/", "JSON syntax error: "+err.Error())
	}
	if _, ok := inst.(map[string]any); !ok {
		return fail("/", fmt.Sprintf("expected an object, got %T", inst))
	}
	schema, err := getCompiledSchema()
	if err != nil {
		return model.JobSpec{}, err
	}
	if err := schema.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return model.JobSpec{}, &JobError{Source: source, Problems: schemaProblems(verr)}
		}
		return fail("/", err.Error())
	}

	var spec model.JobSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return fail("/", err.Error())
	}
	if problems := SemanticProblems(spec); len(problems) > 0 {
		return model.JobSpec{}, &JobError{Source: source, Problems: problems}
	}
	return spec, nil
}

// SemanticProblems reports what the schema cannot express: step and rule
// parameter combinations, e.g. a bin whose labels do not match its
// boundaries or a range rule without bounds.
func SemanticProblems(spec model.JobSpec) []Problem {
	var problems []Problem
	if strings.TrimSpace(spec.Name) == "" {
		problems = append(problems, Problem{Path: "/name", Message: "name is required"})
	}
	if _, err := pipeline.NewExtractor(spec.Source, nil); err != nil {
		problems = append(problems, Problem{Path: "/source", Message: err.Error()})
	}
	for i, s := range spec.Transforms {
		if _, err := pipeline.BuildSteps([]model.StepSpec{s}); err != nil {
			problems = append(problems, Problem{Path: fmt.Sprintf("/transforms/%d", i), Message: err.Error()})
		}
	}
	for i, r := range spec.Rules {
		if err := r.ToRule().Validate(); err != nil {
			problems = append(problems, Problem{Path: fmt.Sprintf("/rules/%d", i), Message: err.Error()})
		}
	}
	return problems
}

// schemaProblems flattens a validation error tree into its leaves.
func schemaProblems(err *jsonschema.ValidationError) []Problem {
	if len(err.Causes) == 0 {
		return []Problem{{Path: instancePath(err.InstanceLocation), Message: leafMessage(err)}}
	}
	var problems []Problem
	for _, cause := range err.Causes {
		problems = append(problems, schemaProblems(cause)...)
	}
	return problems
}

func instancePath(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

var printer = message.NewPrinter(language.English)

func leafMessage(err *jsonschema.ValidationError) string {
	if err.ErrorKind != nil {
		return err.ErrorKind.LocalizedString(printer)
	}
	return err.Error()
}
