// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"go.astrophena.name/copyrightyear/header"
	"go.astrophena.name/copyrightyear/testutil"
)

// session accumulates client messages to feed a server.
type session struct {
	buf    bytes.Buffer
	nextID int
}

func (s *session) request(method string, params any) int {
	s.nextID++
	s.send(&message{ID: json.RawMessage(fmt.Sprint(s.nextID)), Method: method, Params: marshal(params)})
	return s.nextID
}

func (s *session) notify(method string, params any) {
	s.send(&message{Method: method, Params: marshal(params)})
}

func (s *session) send(msg *message) {
	if err := newConn(nil, &s.buf).write(msg); err != nil {
		panic(err)
	}
}

func marshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// serve runs srv over the session input and returns responses by ID.
func serve(t *testing.T, srv *Server, s *session) (map[string]*message, error) {
	t.Helper()

	var out bytes.Buffer
	err := srv.Serve(context.Background(), &s.buf, &out)

	resps := make(map[string]*message)
	c := newConn(&out, nil)
	for {
		data, rerr := c.readRaw()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			t.Fatalf("reading server output: %v", rerr)
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding server output %q: %v", data, err)
		}
		testutil.AssertEqual(t, msg.JSONRPC, "2.0")
		resps[string(msg.ID)] = &msg
	}
	return resps, err
}

func newTestServer() *Server {
	return &Server{
		Name:    "copyrightyear",
		Version: "test",
		Now:     func() time.Time { return time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func initialize(s *session) {
	s.request("initialize", &InitializeParams{ClientInfo: &ClientInfo{Name: "test"}})
	s.notify("initialized", struct{}{})
}

func shutdownAndExit(s *session) {
	s.request("shutdown", nil)
	s.notify("exit", nil)
}

func open(s *session, uri DocumentURI, text string) {
	s.notify("textDocument/didOpen", &DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: "python", Version: 1, Text: text},
	})
}

func willSave(s *session, uri DocumentURI) int {
	return s.request("textDocument/willSaveWaitUntil", &WillSaveTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Reason:       SaveManual,
	})
}

func editsOf(t *testing.T, resp *message) []TextEdit {
	t.Helper()
	if resp == nil {
		t.Fatal("missing response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}
	return testutil.UnmarshalJSON[[]TextEdit](t, resp.Result)
}

func TestInitialize(t *testing.T) {
	var s session
	id := s.request("initialize", &InitializeParams{})
	shutdownAndExit(&s)

	resps, err := serve(t, newTestServer(), &s)
	testutil.AssertEqual(t, err, nil)

	got := testutil.UnmarshalJSON[InitializeResult](t, resps[fmt.Sprint(id)].Result)
	testutil.AssertEqual(t, got, InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: TextDocumentSyncOptions{
				OpenClose:         true,
				Change:            SyncFull,
				WillSaveWaitUntil: true,
			},
		},
		ServerInfo: &ServerInfo{Name: "copyrightyear", Version: "test"},
	})
	testutil.AssertEqual(t, string(resps["2"].Result), "null")
}

func TestWillSaveWaitUntil(t *testing.T) {
	const (
		py    = DocumentURI("file:///src/tool.py")
		other = DocumentURI("file:///src/main.go")
	)

	cases := map[string]struct {
		setup func(s *session)
		uri   DocumentURI
		want  []TextEdit
	}{
		"stale single year": {
			setup: func(s *session) {
				open(s, py, "# Copyright (C) 2020 Posit Software, PBC.\nprint(1)\n")
			},
			uri: py,
			want: []TextEdit{{
				Range:   Range{Start: Position{Line: 0}, End: Position{Line: 0, Character: 41}},
				NewText: "# Copyright (C) 2020-2024 Posit Software, PBC.",
			}},
		},
		"range excludes carriage return": {
			setup: func(s *session) {
				open(s, py, "#\r\n# Copyright (C) 2020-2023 Posit Software, PBC.\r\n")
			},
			uri: py,
			want: []TextEdit{{
				Range:   Range{Start: Position{Line: 1}, End: Position{Line: 1, Character: 46}},
				NewText: "# Copyright (C) 2020-2024 Posit Software, PBC.",
			}},
		},
		"range counts utf-16 units": {
			setup: func(s *session) {
				open(s, py, "# 🙂 Copyright (C) 2020 Posit Software, PBC.\n")
			},
			uri: py,
			want: []TextEdit{{
				Range:   Range{Start: Position{Line: 0}, End: Position{Line: 0, Character: 44}},
				NewText: "# 🙂 Copyright (C) 2020-2024 Posit Software, PBC.",
			}},
		},
		"current header": {
			setup: func(s *session) {
				open(s, py, "# Copyright (C) 2024 Posit Software, PBC.\n")
			},
			uri: py,
		},
		"uses changed text": {
			setup: func(s *session) {
				open(s, py, "# Copyright (C) 2024 Posit Software, PBC.\n")
				s.notify("textDocument/didChange", &DidChangeTextDocumentParams{
					TextDocument: VersionedTextDocumentIdentifier{TextDocumentIdentifier{URI: py}, 2},
					ContentChanges: []TextDocumentContentChangeEvent{
						{Text: "intermediate\n"},
						{Text: "# Copyright (C) 2021 Posit Software, PBC.\n"},
					},
				})
			},
			uri: py,
			want: []TextEdit{{
				Range:   Range{Start: Position{Line: 0}, End: Position{Line: 0, Character: 41}},
				NewText: "# Copyright (C) 2021-2024 Posit Software, PBC.",
			}},
		},
		"incremental change forgets document": {
			setup: func(s *session) {
				open(s, py, "# Copyright (C) 2020 Posit Software, PBC.\n")
				s.notify("textDocument/didChange", &DidChangeTextDocumentParams{
					TextDocument: VersionedTextDocumentIdentifier{TextDocumentIdentifier{URI: py}, 2},
					ContentChanges: []TextDocumentContentChangeEvent{
						{Range: &Range{}, Text: "x"},
					},
				})
			},
			uri: py,
		},
		"closed document": {
			setup: func(s *session) {
				open(s, py, "# Copyright (C) 2020 Posit Software, PBC.\n")
				s.notify("textDocument/didClose", &DidCloseTextDocumentParams{TextDocument: TextDocumentIdentifier{URI: py}})
			},
			uri: py,
		},
		"unknown document": {
			setup: func(s *session) {},
			uri:   py,
		},
		"unsupported extension": {
			setup: func(s *session) {
				open(s, other, "// Copyright (C) 2020 Posit Software, PBC.\n")
			},
			uri: other,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var s session
			initialize(&s)
			tc.setup(&s)
			id := willSave(&s, tc.uri)
			shutdownAndExit(&s)

			resps, err := serve(t, newTestServer(), &s)
			testutil.AssertEqual(t, err, nil)
			testutil.AssertEqual(t, editsOf(t, resps[fmt.Sprint(id)]), tc.want)
		})
	}
}

func TestErrors(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		var s session
		id := willSave(&s, "file:///a.py")

		resps, err := serve(t, newTestServer(), &s)
		testutil.AssertEqual(t, err, nil)
		resp := resps[fmt.Sprint(id)]
		if resp == nil || resp.Error == nil {
			t.Fatalf("want error response, got %+v", resp)
		}
		testutil.AssertEqual(t, resp.Error.Code, int64(CodeServerNotInitialized))
	})

	t.Run("method not found", func(t *testing.T) {
		var s session
		initialize(&s)
		id := s.request("textDocument/hover", struct{}{})
		s.notify("$/setTrace", map[string]string{"value": "off"})
		shutdownAndExit(&s)

		resps, err := serve(t, newTestServer(), &s)
		testutil.AssertEqual(t, err, nil)
		testutil.AssertEqual(t, resps[fmt.Sprint(id)].Error.Code, int64(CodeMethodNotFound))
	})

	t.Run("invalid params", func(t *testing.T) {
		var s session
		initialize(&s)
		id := s.request("textDocument/willSaveWaitUntil", []int{1, 2})
		shutdownAndExit(&s)

		resps, err := serve(t, newTestServer(), &s)
		testutil.AssertEqual(t, err, nil)
		testutil.AssertEqual(t, resps[fmt.Sprint(id)].Error.Code, int64(CodeInvalidParams))
	})

	t.Run("parse error", func(t *testing.T) {
		var s session
		body := "{not json"
		fmt.Fprintf(&s.buf, "Content-Length: %d\r\n\r\n%s", len(body), body)

		resps, err := serve(t, newTestServer(), &s)
		testutil.AssertEqual(t, err, nil)
		testutil.AssertEqual(t, resps["null"].Error.Code, int64(CodeParseError))
	})

	t.Run("request after shutdown", func(t *testing.T) {
		var s session
		initialize(&s)
		s.request("shutdown", nil)
		id := willSave(&s, "file:///a.py")
		s.notify("exit", nil)

		resps, err := serve(t, newTestServer(), &s)
		testutil.AssertEqual(t, err, nil)
		testutil.AssertEqual(t, resps[fmt.Sprint(id)].Error.Code, int64(CodeInvalidRequest))
	})

	t.Run("exit without shutdown", func(t *testing.T) {
		var s session
		initialize(&s)
		s.notify("exit", nil)

		_, err := serve(t, newTestServer(), &s)
		if !errors.Is(err, ErrExitWithoutShutdown) {
			t.Fatalf("want %v, got %v", ErrExitWithoutShutdown, err)
		}
	})

	t.Run("missing content length", func(t *testing.T) {
		var s session
		s.buf.WriteString("Content-Type: application/json\r\n\r\n{}")

		_, err := serve(t, newTestServer(), &s)
		if !errors.Is(err, errNoContentLength) {
			t.Fatalf("want %v, got %v", errNoContentLength, err)
		}
	})
}

func TestServeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	t.Cleanup(func() { w.Close() })

	srv := newTestServer()
	if err := srv.Serve(ctx, r, io.Discard); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestTextEdits(t *testing.T) {
	text := "a\nbé\r\nc"
	got := TextEdits(text, []header.Edit{{Line: 1, Text: "x"}, {Line: 9, Text: "ignored"}})
	testutil.AssertEqual(t, got, []TextEdit{{
		Range:   Range{Start: Position{Line: 1}, End: Position{Line: 1, Character: 2}},
		NewText: "x",
	}})
	testutil.AssertEqual(t, TextEdits(text, nil), []TextEdit(nil))
}

func TestDocumentURIPath(t *testing.T) {
	cases := map[DocumentURI]string{
		"file:///home/user/a.py":           filepath.FromSlash("/home/user/a.py"),
		"file:///home/user/with%20space.R": filepath.FromSlash("/home/user/with space.R"),
		"untitled:Untitled-1":              "untitled:Untitled-1",
	}
	for uri, want := range cases {
		t.Run(string(uri), func(t *testing.T) {
			testutil.AssertEqual(t, uri.Path(), want)
		})
	}
}
