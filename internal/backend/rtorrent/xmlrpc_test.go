package rtorrent

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeCall(t *testing.T) {
	body, err := encodeCall("load.raw_start", []any{"", []byte{0x01, 0x02}, "d.priority.set=3"})
	if err != nil {
		t.Fatalf("encodeCall: %v", err)
	}
	got := string(body)

	for _, want := range []string{
		"<methodName>load.raw_start</methodName>",
		"<value><string></string></value>",
		"<value><base64>AQI=</base64></value>",
		"<value><string>d.priority.set=3</string></value>",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("encoded call missing %q:\n%s", want, got)
		}
	}
}

func TestEncodeCallEscapesText(t *testing.T) {
	body, err := encodeCall("d.custom1.set", []any{"HASH", "tv & <movies>"})
	if err != nil {
		t.Fatalf("encodeCall: %v", err)
	}
	if !strings.Contains(string(body), "tv &amp; &lt;movies&gt;") {
		t.Fatalf("markup not escaped:\n%s", body)
	}
}

func TestEncodeCallRejectsUnsupportedType(t *testing.T) {
	if _, err := encodeCall("d.start", []any{3.14}); err == nil {
		t.Fatal("expected error for unsupported param type")
	}
}

func TestDecodeResponseScalar(t *testing.T) {
	const resp = `<?xml version="1.0"?>
<methodResponse><params><param>
  <value><string>0.9.8/0.13.8</string></value>
</param></params></methodResponse>`

	val, err := decodeResponse(strings.NewReader(resp))
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if val != "0.9.8/0.13.8" {
		t.Fatalf("value = %#v", val)
	}
}

func TestDecodeResponseUntypedValue(t *testing.T) {
	// rTorrent omits the <string> wrapper on some replies.
	const resp = `<?xml version="1.0"?>
<methodResponse><params><param><value>/downloads/show</value></param></params></methodResponse>`

	val, err := decodeResponse(strings.NewReader(resp))
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if val != "/downloads/show" {
		t.Fatalf("value = %#v", val)
	}
}

func TestDecodeResponseMulticallRows(t *testing.T) {
	const resp = `<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>
  <value><array><data>
    <value><string>AAAA</string></value>
    <value><i8>1024</i8></value>
    <value><boolean>1</boolean></value>
    <value><double>0.5</double></value>
  </data></array></value>
</data></array></value></param></params></methodResponse>`

	val, err := decodeResponse(strings.NewReader(resp))
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	rows, ok := val.([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("rows = %#v", val)
	}
	fields, ok := rows[0].([]any)
	if !ok || len(fields) != 4 {
		t.Fatalf("fields = %#v", rows[0])
	}
	if fields[0] != "AAAA" || fields[1] != int64(1024) || fields[2] != true || fields[3] != 0.5 {
		t.Fatalf("fields = %#v", fields)
	}
}

func TestDecodeResponseFault(t *testing.T) {
	const resp = `<?xml version="1.0"?>
<methodResponse><fault><value><struct>
  <member><name>faultCode</name><value><i4>-501</i4></value></member>
  <member><name>faultString</name><value><string>Could not find info-hash.</string></value></member>
</struct></value></fault></methodResponse>`

	_, err := decodeResponse(strings.NewReader(resp))
	if err == nil {
		t.Fatal("expected fault error")
	}
	var fault *rpcFault
	if !errors.As(err, &fault) {
		t.Fatalf("error type = %T", err)
	}
	if fault.Code != -501 || fault.Message != "Could not find info-hash." {
		t.Fatalf("fault = %+v", fault)
	}
}

func TestDecodeResponseEmpty(t *testing.T) {
	if _, err := decodeResponse(strings.NewReader("<methodResponse></methodResponse>")); err == nil {
		t.Fatal("expected error for empty response")
	}
}
