package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-kit/log"
)

func TestGetBestMediaType(t *testing.T) {
	for i, testcase := range []struct {
		inputValues       []string
		prioritizedValues []string
		wantValue         string
	}{
		{nil, nil, ""},
		{nil, []string{"text/plain"}, ""},
		{[]string{}, []string{"text/plain"}, ""},
		{[]string{"application/"}, []string{"text/plain"}, ""},
		{[]string{"application/json"}, []string{}, "application/json"},
		{[]string{"application/json"}, []string{"text/plain"}, "application/json"},
		{[]string{"application/json; charset=utf-8"}, []string{"text/plain"}, "application/json"},
		{[]string{"application/json; charset=utf-8"}, []string{"application/json"}, "application/json"},
		{[]string{"text/plain", "application/json; charset=utf-8"}, []string{"application/json"}, "application/json"},
		{[]string{"text/plain", "application/json; charset=utf-8"}, []string{"application/json; charset=utf-16"}, "application/json"},
		{[]string{"application/x-www-form-urlencoded"}, []string{"application/json", "application/x-www-form-urlencoded"}, "application/x-www-form-urlencoded"},
	} {
		t.Run(strconv.Itoa(i+1), func(t *testing.T) {
			want := testcase.wantValue
			have := getBestMediaType(testcase.inputValues, testcase.prioritizedValues...)
			if want != have {
				t.Errorf("%v, %v: want %q, have %q", testcase.inputValues, testcase.prioritizedValues, want, have)
			}
		})
	}
}

func TestParseBidRequest(t *testing.T) {
	for _, testcase := range []struct {
		name        string
		contentType string
		body        string
		query       string
		wantAmount  int64
	}{
		{"json", "application/json", `{"amount":12}`, "", 12},
		{"json empty body", "application/json", ``, "", 0},
		{"form", "application/x-www-form-urlencoded", `amount=13`, "", 13},
		{"query", "", ``, "amount=14", 14},
		{"query bad number", "", ``, "amount=abc", 0},
	} {
		t.Run(testcase.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v0/bid?"+testcase.query, bytes.NewBufferString(testcase.body))
			if testcase.contentType != "" {
				r.Header.Set("content-type", testcase.contentType)
			}

			var req bidRequest
			if err := parseRequest(r, &req, req.fromValues, log.NewNopLogger()); err != nil {
				t.Fatal(err)
			}

			if want, have := testcase.wantAmount, req.Amount; want != have {
				t.Errorf("amount: want %d, have %d", want, have)
			}
		})
	}
}

func TestParseRequestBadJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/v0/bid", strings.NewReader(`{"amount":`))
	r.Header.Set("content-type", "application/json")

	var req bidRequest
	if err := parseRequest(r, &req, req.fromValues, log.NewNopLogger()); err == nil {
		t.Fatal("want error, have none")
	}
}

func TestStartRequestValidate(t *testing.T) {
	req := startRequest{}
	err := req.validate()
	if err == nil {
		t.Fatal("want error, have none")
	}
	for _, want := range []error{ErrNoAssetRef, ErrNoAssetID} {
		if !errors.Is(err, want) {
			t.Errorf("want %v in %v", want, err)
		}
	}
	if want, have := "no asset ref; no asset ID", err.Error(); want != have {
		t.Errorf("error string: want %q, have %q", want, have)
	}

	req = startRequest{AssetRef: "nft", AssetID: "42"}
	if err := req.validate(); err != nil {
		t.Errorf("valid request: %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	for _, testcase := range []struct {
		err       error
		wantCode  int
		wantTrue  bool
		wantRCode string
	}{
		{nil, http.StatusOK, false, "ok"},
		{ErrNoCaller, http.StatusBadRequest, false, "invalid_request"},
		{errors.New("boom"), http.StatusTeapot, true, "error"},
	} {
		code, trueError := classifyError(testcase.err, http.StatusTeapot)
		if want, have := testcase.wantCode, code; want != have {
			t.Errorf("%v: code: want %d, have %d", testcase.err, want, have)
		}
		if want, have := testcase.wantTrue, trueError; want != have {
			t.Errorf("%v: true error: want %v, have %v", testcase.err, want, have)
		}
		if want, have := testcase.wantRCode, reasonCode(testcase.err); want != have {
			t.Errorf("%v: reason: want %q, have %q", testcase.err, want, have)
		}
	}
}
