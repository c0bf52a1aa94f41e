package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/pkg/utils"
)

// Extractor produces the dataset a run starts from.
type Extractor interface {
	Extract(ctx context.Context) (*model.Dataset, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context) (*model.Dataset, error)

func (f ExtractorFunc) Extract(ctx context.Context) (*model.Dataset, error) { return f(ctx) }

// NewExtractor builds the extractor described by spec.
func NewExtractor(spec model.SourceSpec, log *zap.SugaredLogger) (Extractor, error) {
	switch strings.ToLower(spec.Type) {
	case "csv":
		return &CSVExtractor{Path: spec.Path, Schema: spec.Schema, Logger: log}, nil
	case "ndjson", "json", "api":
		return &NDJSONExtractor{Path: spec.Path, Schema: spec.Schema, Logger: log}, nil
	case "synthetic":
		return &SyntheticExtractor{Records: spec.Records, Seed: spec.Seed, Profile: spec.Profile}, nil
	}
	return nil, errors.Wrapf(ErrInvalidStep, "unknown source type %q", spec.Type)
}

// openSource opens a local file or fetches an http(s) URL. The caller must
// close the returned reader.
func openSource(ctx context.Context, client *http.Client, pathOrURL string) (io.ReadCloser, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pathOrURL, nil)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "GET")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, errors.Newf("GET returned %s", resp.Status)
		}
		return resp.Body, nil
	}
	file, err := os.Open(pathOrURL)
	if err != nil {
		return nil, errors.Wrap(err, "open file")
	}
	return file, nil
}

// ------------------- CSV -------------------

// CSVExtractor reads a headed CSV file or URL. Columns listed in Schema are
// parsed as declared; the rest are inferred.
type CSVExtractor struct {
	Path   string
	Schema map[string]model.LogicalType
	Client *http.Client
	Logger *zap.SugaredLogger
}

func (e *CSVExtractor) Extract(ctx context.Context) (*model.Dataset, error) {
	ds, err := e.extract(ctx)
	if err != nil {
		return nil, &ExtractionError{Source: e.Path, Err: err}
	}
	return ds, nil
}

func (e *CSVExtractor) extract(ctx context.Context) (*model.Dataset, error) {
	log := logger.FromContext(ctx, e.Logger)
	r, err := openSource(ctx, e.Client, e.Path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	headers, err := csvReader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read CSV header")
	}
	for i, h := range headers {
		headers[i] = strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), `"`, "")
	}

	cells := make([][]string, len(headers))
	rows := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read CSV row %d", rows+1)
		}
		for i := range headers {
			cells[i] = append(cells[i], record[i])
		}
		rows++
	}
	log.Debugw("CSV read", logger.FieldPath, e.Path, logger.FieldRecords, rows)

	cols := make([]model.Column, len(headers))
	for i, name := range headers {
		col, err := buildTextColumn(name, cells[i], e.Schema[name])
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return model.NewDataset(cols...)
}

// buildTextColumn types a column of raw text cells, using declared when set
// and the widest inferred type otherwise.
func buildTextColumn(name string, cells []string, declared model.LogicalType) (model.Column, error) {
	t := declared
	if t == "" {
		for _, c := range cells {
			ct, _ := utils.InferValue(c)
			t = utils.WidenType(t, ct)
		}
		if t == "" {
			t = model.TypeString
		}
	}
	values := make([]any, len(cells))
	for row, c := range cells {
		if t == model.TypeString && declared == "" {
			if strings.TrimSpace(c) != "" {
				values[row] = c
			}
			continue
		}
		v, err := utils.ParseAs(c, t)
		if err != nil {
			return model.Column{}, errors.Wrapf(err, "column %q row %d", name, row+1)
		}
		values[row] = v
	}
	return model.Column{Name: name, Type: t, Values: values}, nil
}

// ------------------- NDJSON / JSON -------------------

// NDJSONExtractor reads newline-delimited JSON objects from a file or URL.
// A body starting with '[' is read as a JSON array of objects instead.
// Columns are the union of object keys in first-seen order.
type NDJSONExtractor struct {
	Path   string
	Schema map[string]model.LogicalType
	Client *http.Client
	Logger *zap.SugaredLogger
}

func (e *NDJSONExtractor) Extract(ctx context.Context) (*model.Dataset, error) {
	ds, err := e.extract(ctx)
	if err != nil {
		return nil, &ExtractionError{Source: e.Path, Err: err}
	}
	return ds, nil
}

func (e *NDJSONExtractor) extract(ctx context.Context) (*model.Dataset, error) {
	r, err := openSource(ctx, e.Client, e.Path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	br := bufio.NewReader(r)
	objects, err := readObjects(ctx, br)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, e.Logger).Debugw("JSON read", logger.FieldPath, e.Path, logger.FieldRecords, len(objects))
	return datasetFromObjects(objects, e.Schema)
}

// jsonObject is one decoded record with its keys in document order.
type jsonObject struct {
	keys   []string
	values map[string]any
}

func readObjects(ctx context.Context, br *bufio.Reader) ([]jsonObject, error) {
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if first == '[' {
		dec := json.NewDecoder(br)
		dec.UseNumber()
		if _, err := dec.Token(); err != nil {
			return nil, errors.Wrap(err, "decode JSON array")
		}
		var objects []jsonObject
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			obj, err := decodeObject(dec)
			if err != nil {
				return nil, errors.Wrapf(err, "decode element %d", len(objects))
			}
			objects = append(objects, obj)
		}
		return objects, nil
	}

	var objects []jsonObject
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(text))
		dec.UseNumber()
		obj, err := decodeObject(dec)
		if err != nil {
			return nil, errors.Wrapf(err, "decode line %d", line)
		}
		objects = append(objects, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan lines")
	}
	return objects, nil
}

// decodeObject reads one JSON object token by token so key order survives.
func decodeObject(dec *json.Decoder) (jsonObject, error) {
	tok, err := dec.Token()
	if err != nil {
		return jsonObject{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return jsonObject{}, errors.Newf("expected object, got %v", tok)
	}
	obj := jsonObject{values: map[string]any{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return jsonObject{}, err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return jsonObject{}, errors.Wrapf(err, "value of %q", key)
		}
		if _, dup := obj.values[key]; !dup {
			obj.keys = append(obj.keys, key)
		}
		obj.values[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return jsonObject{}, err
	}
	return obj, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// keyOrder returns the union of object keys in first-seen order.
func keyOrder(objects []jsonObject) []string {
	seen := map[string]bool{}
	var order []string
	for _, obj := range objects {
		for _, k := range obj.keys {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}
	return order
}

func datasetFromObjects(objects []jsonObject, schema map[string]model.LogicalType) (*model.Dataset, error) {
	names := keyOrder(objects)
	cols := make([]model.Column, 0, len(names))
	for _, name := range names {
		t := schema[name]
		if t == "" {
			for _, obj := range objects {
				vt, _ := utils.InferJSON(obj.values[name])
				t = utils.WidenType(t, vt)
			}
			if t == "" {
				t = model.TypeString
			}
		}
		values := make([]any, len(objects))
		for row, obj := range objects {
			raw := obj.values[name]
			if t == model.TypeString {
				if s, ok := raw.(string); ok {
					values[row] = s
					continue
				}
			}
			v, err := utils.Coerce(raw, t)
			if err != nil {
				return nil, errors.Wrapf(err, "column %q row %d", name, row+1)
			}
			values[row] = v
		}
		cols = append(cols, model.Column{Name: name, Type: t, Values: values})
	}
	return model.NewDataset(cols...)
}

// ------------------- Synthetic -------------------

// Synthetic profiles.
const (
	ProfileTransactions = "transactions"
	ProfileCustomers    = "customers"
)

// SyntheticExtractor generates a deterministic demo dataset.
//
// The transactions profile is a customer transaction log with some dirty
// data (every tenth email and about a fifth of countries missing). The
// customers profile carries deliberate quality problems for the
// validation engine: ages under 18, negative incomes, scores above 100,
// an out-of-set category, missing values and one duplicated id.
type SyntheticExtractor struct {
	Records int
	Seed    int64
	Profile string
	// Start is the first transaction timestamp; zero means 2024-01-01 UTC.
	Start time.Time
}

func (e *SyntheticExtractor) Extract(ctx context.Context) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ExtractionError{Source: "synthetic", Err: err}
	}
	var (
		ds  *model.Dataset
		err error
	)
	switch e.Profile {
	case "", ProfileTransactions:
		ds, err = e.transactions()
	case ProfileCustomers:
		ds, err = e.customers()
	default:
		err = errors.Newf("unknown synthetic profile %q", e.Profile)
	}
	if err != nil {
		return nil, &ExtractionError{Source: "synthetic", Err: err}
	}
	return ds, nil
}

func (e *SyntheticExtractor) size(fallback int) int {
	if e.Records > 0 {
		return e.Records
	}
	return fallback
}

func (e *SyntheticExtractor) rng() *rand.Rand {
	seed := e.Seed
	if seed == 0 {
		seed = 42
	}
	return rand.New(rand.NewSource(seed))
}

var (
	productCategories = []string{"Electronics", "Clothing", "Food", "Books"}
	paymentMethods    = []string{"Credit Card", "Debit Card", "Cash", "PayPal"}
	countries         = []any{"US", "UK", "CA", "AU", nil}
)

func (e *SyntheticExtractor) transactions() (*model.Dataset, error) {
	n := e.size(1000)
	rng := e.rng()
	start := e.Start
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	ids := make([]any, n)
	dates := make([]any, n)
	amounts := make([]any, n)
	categories := make([]any, n)
	payments := make([]any, n)
	ages := make([]any, n)
	members := make([]any, n)
	emails := make([]any, n)
	country := make([]any, n)
	for i := 0; i < n; i++ {
		ids[i] = int64(i + 1)
		dates[i] = start.Add(time.Duration(i) * time.Hour)
		amounts[i] = math.Round((10+rng.Float64()*490)*100) / 100
		categories[i] = productCategories[rng.Intn(len(productCategories))]
		payments[i] = paymentMethods[rng.Intn(len(paymentMethods))]
		ages[i] = int64(18 + rng.Intn(62))
		members[i] = rng.Intn(2) == 0
		if i%10 != 0 {
			emails[i] = "user" + strconv.Itoa(i) + "@example.com"
		}
		country[i] = countries[rng.Intn(len(countries))]
	}
	return model.NewDataset(
		model.Column{Name: "customer_id", Type: model.TypeInteger, Values: ids},
		model.Column{Name: "transaction_date", Type: model.TypeTimestamp, Values: dates},
		model.Column{Name: "amount", Type: model.TypeFloat, Values: amounts},
		model.Column{Name: "product_category", Type: model.TypeCategorical, Values: categories},
		model.Column{Name: "payment_method", Type: model.TypeCategorical, Values: payments},
		model.Column{Name: "customer_age", Type: model.TypeInteger, Values: ages},
		model.Column{Name: "is_member", Type: model.TypeBoolean, Values: members},
		model.Column{Name: "email", Type: model.TypeString, Values: emails},
		model.Column{Name: "country", Type: model.TypeCategorical, Values: country},
	)
}

func (e *SyntheticExtractor) customers() (*model.Dataset, error) {
	n := e.size(100)
	rng := e.rng()
	ids := make([]any, n)
	ages := make([]any, n)
	incomes := make([]any, n)
	categories := make([]any, n)
	scores := make([]any, n)
	choices := []string{"A", "B", "C", "Invalid"}
	for i := 0; i < n; i++ {
		ids[i] = int64(i + 1)
		ages[i] = float64(15 + rng.Intn(75))
		incomes[i] = -1000 + rng.Float64()*101000
		categories[i] = choices[rng.Intn(len(choices))]
		scores[i] = rng.Float64() * 150
	}
	for _, i := range []int{5, 15, 25, 35, 45} {
		if i < n {
			ages[i] = nil
			incomes[i] = nil
		}
	}
	if n > 95 {
		ids[95] = ids[1]
	}
	return model.NewDataset(
		model.Column{Name: "customer_id", Type: model.TypeInteger, Values: ids},
		model.Column{Name: "age", Type: model.TypeFloat, Values: ages},
		model.Column{Name: "income", Type: model.TypeFloat, Values: incomes},
		model.Column{Name: "category", Type: model.TypeString, Values: categories},
		model.Column{Name: "score", Type: model.TypeFloat, Values: scores},
	)
}
