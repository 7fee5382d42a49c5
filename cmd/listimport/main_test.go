package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/frankban/quicktest"

	"github.com/andys/listimport/config"
	"github.com/andys/listimport/schema"
)

// fakeSite serves the REST list API for a single list
type fakeSite struct {
	mu      sync.Mutex
	items   []map[string]interface{}
	updates int
}

func (s *fakeSite) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_api/lists/Projects/fields", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"fields": []map[string]interface{}{
				{"name": "ID", "type": "Counter", "primaryKey": true},
				{"name": "Title", "type": "Text"},
				{"name": "Status", "type": "Choice", "choices": []string{"Active", "Closed"}},
				{"name": "Created", "type": "DateTime"},
				{"name": "Modified", "type": "DateTime"},
			},
		})
	})
	mux.HandleFunc("POST /_api/lists/Projects/items/batch", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []map[string]interface{} `json:"items"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		defer s.mu.Unlock()
		results := make([]map[string]interface{}, len(req.Items))
		for i, item := range req.Items {
			s.items = append(s.items, item)
			results[i] = map[string]interface{}{"id": len(s.items)}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	})
	mux.HandleFunc("POST /_api/lists/Projects/items/systemupdate", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.updates++
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func testConfig(c *quicktest.C, site, csvData string) *config.Config {
	path := filepath.Join(c.TempDir(), "items.csv")
	c.Assert(os.WriteFile(path, []byte(csvData), 0o644), quicktest.IsNil)
	return &config.Config{
		SiteURL:       site,
		ListName:      "Projects",
		SourceFile:    path,
		Mappings:      []string{"Name=Title", "State=Status"},
		CreatedField:  "Created",
		ModifiedField: "Modified",
		BatchSize:     2,
		SleepEvery:    0,
		Retries:       1,
		TestRows:      100,
		Workers:       2,
		Encoding:      "utf-8",
		Delimiter:     ",",
		TitleField:    "Title",
		TitlePrefix:   "Import_",
	}
}

func TestRunImport_RESTSite(t *testing.T) {
	c := quicktest.New(t)
	site := &fakeSite{}
	srv := httptest.NewServer(site.handler())
	defer srv.Close()

	cfg := testConfig(c, srv.URL, "Name,State,Created\nalpha,active,2021-01-05\n,Closed,\ngamma,Archived,2020-12-31 08:00\n")
	cfg.PreserveDates = true

	err := runImport(context.Background(), cfg)
	c.Assert(err, quicktest.IsNil)

	c.Assert(site.items, quicktest.HasLen, 3)
	c.Assert(site.items[0]["Title"], quicktest.Equals, "alpha")
	c.Assert(site.items[0]["Status"], quicktest.Equals, "Active")
	c.Assert(site.items[1]["Title"], quicktest.Matches, "Import_[0-9]{8}_[0-9]{6}")
	_, ok := site.items[2]["Status"]
	c.Assert(ok, quicktest.IsFalse)
	c.Assert(site.updates, quicktest.Equals, 2)
}

func TestRunImport_ConfigurationErrors(t *testing.T) {
	c := quicktest.New(t)

	cfg := testConfig(c, "https://lists.example.com", "Name\nx\n")
	cfg.BatchSize = 0
	err := runImport(context.Background(), cfg)
	c.Assert(err, quicktest.ErrorMatches, "invalid configuration: batch size \\(0\\) must be at least 1")

	cfg = testConfig(c, "https://lists.example.com", "Name\nx\n")
	cfg.SourceFile = filepath.Join(c.TempDir(), "missing.csv")
	err = runImport(context.Background(), cfg)
	c.Assert(err, quicktest.ErrorMatches, "source file not found: .*")

	cfg = testConfig(c, "ftp://lists.example.com", "Name\nx\n")
	err = runImport(context.Background(), cfg)
	c.Assert(err, quicktest.ErrorMatches, `failed to connect to ftp://lists.example.com: unsupported site URL scheme: "ftp"`)
}

func TestRunImport_UnknownField(t *testing.T) {
	c := quicktest.New(t)
	site := &fakeSite{}
	srv := httptest.NewServer(site.handler())
	defer srv.Close()

	cfg := testConfig(c, srv.URL, "Name,Owner\nx,y\n")
	cfg.Mappings = []string{"Name=Title", "Owner=AssignedTo"}

	err := runImport(context.Background(), cfg)
	c.Assert(err, quicktest.ErrorMatches, "list Projects has no field named AssignedTo")
	c.Assert(site.items, quicktest.HasLen, 0)
}

func TestPrintFields(t *testing.T) {
	c := quicktest.New(t)
	var buf bytes.Buffer
	printFields(&buf, "Projects", []schema.Field{
		{Name: "Title", Type: "Text"},
		{Name: "Status", Type: "Choice", Kind: schema.Choice, Choices: schema.NewChoiceSet("Active", "Closed")},
	})
	c.Assert(buf.String(), quicktest.Equals, "List Projects: 2 fields (1 choice, 0 multi-choice)\n"+
		"  Title (Text)\n"+
		"  Status (Choice, choice) [Active, Closed]\n")
}
