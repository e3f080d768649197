package rtorrent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Minimal XML-RPC codec for the rTorrent method surface: scalar and
// base64 params out, scalar/array trees back, faults as errors.

type rpcClient struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
}

type rpcFault struct {
	Code    int
	Message string
}

func (f *rpcFault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Message)
}

func encodeCall(method string, args []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	if err := xml.EscapeText(&buf, []byte(method)); err != nil {
		return nil, err
	}
	buf.WriteString("</methodName><params>")
	for _, arg := range args {
		buf.WriteString("<param>")
		if err := encodeValue(&buf, arg); err != nil {
			return nil, err
		}
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	buf.WriteString("<value>")
	switch val := v.(type) {
	case string:
		buf.WriteString("<string>")
		if err := xml.EscapeText(buf, []byte(val)); err != nil {
			return err
		}
		buf.WriteString("</string>")
	case int:
		fmt.Fprintf(buf, "<i8>%d</i8>", val)
	case int64:
		fmt.Fprintf(buf, "<i8>%d</i8>", val)
	case bool:
		b := 0
		if val {
			b = 1
		}
		fmt.Fprintf(buf, "<boolean>%d</boolean>", b)
	case []byte:
		buf.WriteString("<base64>")
		buf.WriteString(base64.StdEncoding.EncodeToString(val))
		buf.WriteString("</base64>")
	case []any:
		buf.WriteString("<array><data>")
		for _, item := range val {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array>")
	default:
		return fmt.Errorf("xmlrpc: unsupported param type %T", v)
	}
	buf.WriteString("</value>")
	return nil
}

// call issues one XML-RPC method and returns the decoded result tree:
// string, int64, float64, bool, []byte or []any.
func (c *rpcClient) call(ctx context.Context, method string, args ...any) (any, error) {
	body, err := encodeCall(method, args)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("xmlrpc: unexpected status %d", resp.StatusCode)
	}

	return decodeResponse(resp.Body)
}

func decodeResponse(r io.Reader) (any, error) {
	dec := xml.NewDecoder(r)
	var (
		inFault bool
		result  any
		haveVal bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "fault":
			inFault = true
		case "value":
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			if inFault {
				return nil, faultFromValue(val)
			}
			result = val
			haveVal = true
		}
		if haveVal {
			break
		}
	}
	if !haveVal {
		return nil, fmt.Errorf("xmlrpc: empty response")
	}
	return result, nil
}

// decodeValue consumes tokens until the matching </value>, returning the
// parsed scalar or array.
func decodeValue(dec *xml.Decoder) (any, error) {
	var (
		result   any
		typed    bool
		charData strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "string":
				s, err := readText(dec, t.Name.Local)
				if err != nil {
					return nil, err
				}
				result, typed = s, true
			case "i4", "i8", "int":
				s, err := readText(dec, t.Name.Local)
				if err != nil {
					return nil, err
				}
				n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
				if err != nil {
					return nil, fmt.Errorf("xmlrpc: bad int %q", s)
				}
				result, typed = n, true
			case "double":
				s, err := readText(dec, t.Name.Local)
				if err != nil {
					return nil, err
				}
				f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
				if err != nil {
					return nil, fmt.Errorf("xmlrpc: bad double %q", s)
				}
				result, typed = f, true
			case "boolean":
				s, err := readText(dec, t.Name.Local)
				if err != nil {
					return nil, err
				}
				result, typed = strings.TrimSpace(s) == "1", true
			case "base64":
				s, err := readText(dec, t.Name.Local)
				if err != nil {
					return nil, err
				}
				data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
				if err != nil {
					return nil, err
				}
				result, typed = data, true
			case "array":
				arr, err := decodeArray(dec)
				if err != nil {
					return nil, err
				}
				result, typed = arr, true
			case "struct":
				m, err := decodeStruct(dec)
				if err != nil {
					return nil, err
				}
				result, typed = m, true
			}
		case xml.CharData:
			charData.Write(t)
		case xml.EndElement:
			if t.Name.Local == "value" {
				if !typed {
					// Untyped <value>text</value> is a string.
					return charData.String(), nil
				}
				return result, nil
			}
		}
	}
}

func decodeArray(dec *xml.Decoder) ([]any, error) {
	items := []any{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "value" {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, val)
			}
		case xml.EndElement:
			if t.Name.Local == "array" {
				return items, nil
			}
		}
	}
}

func decodeStruct(dec *xml.Decoder) (map[string]any, error) {
	m := map[string]any{}
	var name string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				s, err := readText(dec, "name")
				if err != nil {
					return nil, err
				}
				name = s
			case "value":
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				m[name] = val
			}
		case xml.EndElement:
			if t.Name.Local == "struct" {
				return m, nil
			}
		}
	}
}

func readText(dec *xml.Decoder, name string) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local == name {
				return sb.String(), nil
			}
		}
	}
}

func faultFromValue(val any) error {
	fault := &rpcFault{Message: "unknown fault"}
	if m, ok := val.(map[string]any); ok {
		if code, ok := m["faultCode"].(int64); ok {
			fault.Code = int(code)
		}
		if msg, ok := m["faultString"].(string); ok {
			fault.Message = msg
		}
	}
	return fault
}
