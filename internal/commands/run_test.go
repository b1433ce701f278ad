package commands_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/bcsync/internal/config"
	"github.com/cleared-dev/bcsync/internal/dimension"
	"github.com/cleared-dev/bcsync/internal/synclog"
)

// fakeBC serves an Entra ID token endpoint at /token and a Business Central
// API with one empty company under /api/v2.0/.
func fakeBC(t *testing.T) *httptest.Server {
	t.Helper()
	created := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"a1","token_type":"Bearer","expires_in":3600,"refresh_token":"r2"}`)
	})
	mux.HandleFunc("/api/v2.0/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer a1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/companies"):
			_, _ = io.WriteString(w, `{"value":[{"id":"c1","name":"CRONUS USA, Inc."}]}`)
		case r.Method == http.MethodGet:
			_, _ = io.WriteString(w, `{"value":[]}`)
		default:
			var env struct {
				Requests []struct {
					ID     string `json:"id"`
					Method string `json:"method"`
				} `json:"requests"`
			}
			if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var resps []map[string]any
			for _, req := range env.Requests {
				resp := map[string]any{"id": req.ID, "status": http.StatusNoContent}
				if req.Method == http.MethodPost {
					created++
					resp["status"] = http.StatusCreated
					resp["body"] = map[string]any{"id": fmt.Sprintf("00000000-0000-0000-0000-%012d", created)}
				}
				resps = append(resps, resp)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"responses": resps})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// initProject creates a project pointed at srv with working credentials.
func initProject(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	dir := t.TempDir()
	_, err := runBcsync(t, "init", dir, "--tenant", "tenant-1")
	require.NoError(t, err)

	path := filepath.Join(dir, config.FileName)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Dynamics.ClientID = "client"
	cfg.Dynamics.ClientSecret = "secret"
	cfg.Dynamics.RefreshToken = "r1"
	cfg.Dynamics.BaseURL = srv.URL + "/api/v2.0/"
	cfg.Dynamics.TokenURL = srv.URL + "/token"
	require.NoError(t, config.Save(path, cfg))
	return dir
}

const vendorInput = `{"type":"SCHEMA","stream":"Vendors","schema":{}}
{"type":"RECORD","stream":"Vendors","record":{"subsidiaryId":"c1","vendorNumber":"V-1","vendorName":"Northwind"}}
{"type":"STATE","value":{}}
`

func runSplit(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := exec.Command(binaryPath, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func TestRun_InputDirectory(t *testing.T) {
	srv := fakeBC(t)
	dir := initProject(t, srv)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "import", "001.jsonl"), []byte(vendorInput), 0o644))

	stdout, stderr, err := runSplit(t, "", "run", dir)
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, `"type":"STATE"`)
	assert.Contains(t, stdout, `"stream":"Vendors"`)
	assert.Contains(t, stdout, `"success":true`)

	_, err = os.Stat(filepath.Join(dir, "import", "processed", "001.jsonl"))
	assert.NoError(t, err, "input file should move to processed")

	entries, err := synclog.Read(filepath.Join(dir, "logs", "sync-log.csv"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, synclog.StatusCreated, entries[0].Status)

	_, err = os.Stat(filepath.Join(dir, ".bcsync", "state.json"))
	assert.NoError(t, err, "state file should be written")

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	assert.Equal(t, "r2", cfg.Dynamics.RefreshToken, "rotated refresh token is saved")
}

func TestRun_Stdin(t *testing.T) {
	srv := fakeBC(t)
	dir := initProject(t, srv)

	stdout, stderr, err := runSplit(t, vendorInput, "run", dir, "--stdin")
	require.NoError(t, err, stderr)
	assert.Equal(t, 1, strings.Count(stdout, `"type":"STATE"`))
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := runBcsync(t, "init", dir, "--tenant", "tenant-1")
	require.NoError(t, err)

	out, err := runBcsync(t, "run", dir)
	require.Error(t, err)
	assert.Contains(t, out, "dynamics.client_id")
}

func TestValidate(t *testing.T) {
	srv := fakeBC(t)
	dir := initProject(t, srv)

	out, err := runBcsync(t, "validate", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "configuration ok")

	out, err = runBcsync(t, "validate", dir, "--remote")
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 companies checked")
}

func TestValidate_UnknownDimension(t *testing.T) {
	srv := fakeBC(t)
	dir := initProject(t, srv)

	path := filepath.Join(dir, config.FileName)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Companies[config.DefaultCompany] = config.CompanyConfig{
		Dimensions: []dimension.FieldMapping{{Field: "class", Code: "CLASS"}},
	}
	require.NoError(t, config.Save(path, cfg))

	out, err := runBcsync(t, "validate", dir, "--remote")
	require.Error(t, err)
	assert.Contains(t, out, `dimension "CLASS" is not defined`)
}
