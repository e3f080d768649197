package rtorrent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"torrentgate/internal/domain/ports"
)

const testHash = "0123456789ABCDEF0123456789ABCDEF01234567"

func row(overrides map[int]any) []any {
	fields := []any{
		testHash,     // d.hash
		"ubuntu.iso", // d.name
		"/downloads/ubuntu.iso", // d.base_path
		"/downloads",            // d.directory
		int64(1000),             // d.size_bytes
		int64(0),                // d.is_multi_file
		int64(250),              // d.bytes_done
		int64(1),                // d.state
		int64(1),                // d.is_active
		int64(0),                // d.complete
		int64(500),              // d.ratio
		int64(10),               // d.up.rate
		int64(20),               // d.down.rate
		int64(4),                // d.peers_connected
		int64(2),                // d.peers_complete
		int64(2),                // d.priority
		int64(0),                // d.is_private
		"",                      // d.custom1
	}
	for i, v := range overrides {
		fields[i] = v
	}
	return fields
}

func TestViewFromRowDownloading(t *testing.T) {
	view, err := viewFromRow(row(nil))
	if err != nil {
		t.Fatalf("viewFromRow: %v", err)
	}
	if view.InfoHash != testHash || view.Name != "ubuntu.iso" {
		t.Fatalf("view = %+v", view)
	}
	if view.State != "downloading" || !view.IsActive || view.Complete {
		t.Fatalf("state = %q active=%v complete=%v", view.State, view.IsActive, view.Complete)
	}
	if view.Progress != 0.25 {
		t.Fatalf("progress = %v", view.Progress)
	}
	if view.Ratio != 0.5 {
		t.Fatalf("ratio = %v", view.Ratio)
	}
}

func TestViewFromRowStates(t *testing.T) {
	seeding, _ := viewFromRow(row(map[int]any{6: int64(1000), 9: int64(1)}))
	if seeding.State != "seeding" || seeding.Progress != 1 {
		t.Fatalf("seeding view = %+v", seeding)
	}

	paused, _ := viewFromRow(row(map[int]any{8: int64(0)}))
	if paused.State != "paused" || paused.IsActive {
		t.Fatalf("paused view = %+v", paused)
	}

	stopped, _ := viewFromRow(row(map[int]any{7: int64(0), 8: int64(0)}))
	if stopped.State != "stopped" {
		t.Fatalf("stopped view = %+v", stopped)
	}
}

func TestViewFromRowMagnetPending(t *testing.T) {
	view, _ := viewFromRow(row(map[int]any{1: testHash + ".meta"}))
	if !view.IsMagnetPending {
		t.Fatal("meta-named torrent not flagged as pending magnet")
	}
}

func TestParseLabels(t *testing.T) {
	if got := parseLabels(" tv, movies ,,4k "); !reflect.DeepEqual(got, []string{"tv", "movies", "4k"}) {
		t.Fatalf("labels = %#v", got)
	}
	if got := parseLabels("  "); got != nil {
		t.Fatalf("empty labels = %#v", got)
	}
}

func TestListTorrentsRoundTrip(t *testing.T) {
	const resp = `<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>
  <value><array><data>
    <value><string>0123456789abcdef0123456789abcdef01234567</string></value>
    <value><string>ubuntu.iso</string></value>
    <value><string>/downloads/ubuntu.iso</string></value>
    <value><string>/downloads</string></value>
    <value><i8>1000</i8></value>
    <value><i8>0</i8></value>
    <value><i8>1000</i8></value>
    <value><i8>1</i8></value>
    <value><i8>1</i8></value>
    <value><i8>1</i8></value>
    <value><i8>1500</i8></value>
    <value><i8>0</i8></value>
    <value><i8>0</i8></value>
    <value><i8>0</i8></value>
    <value><i8>0</i8></value>
    <value><i8>2</i8></value>
    <value><i8>1</i8></value>
    <value><string>tv</string></value>
  </data></array></value>
</data></array></value></param></params></methodResponse>`

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "rt" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(resp))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL + "/RPC2", Username: "rt", Password: "secret"})
	views, err := c.ListTorrents(context.Background(), ports.ListOptions{})
	if err != nil {
		t.Fatalf("ListTorrents: %v", err)
	}
	if !strings.Contains(gotBody, "<methodName>d.multicall2</methodName>") {
		t.Fatalf("request body:\n%s", gotBody)
	}

	if len(views) != 1 {
		t.Fatalf("views = %+v", views)
	}
	v := views[0]
	if v.InfoHash != testHash {
		t.Fatalf("hash not canonicalized: %q", v.InfoHash)
	}
	if v.State != "seeding" || !v.Complete || !v.IsPrivate {
		t.Fatalf("view = %+v", v)
	}
	if v.Ratio != 1.5 {
		t.Fatalf("ratio = %v", v.Ratio)
	}
	if !reflect.DeepEqual(v.Labels, []string{"tv"}) {
		t.Fatalf("labels = %#v", v.Labels)
	}
}

func TestPingSurfacesFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<methodResponse><fault><value><struct>
  <member><name>faultCode</name><value><i4>-506</i4></value></member>
  <member><name>faultString</name><value><string>Method not found.</string></value></member>
</struct></value></fault></methodResponse>`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL + "/RPC2"})
	if err := c.Ping(context.Background()); err == nil || !strings.Contains(err.Error(), "-506") {
		t.Fatalf("Ping err = %v", err)
	}
}
