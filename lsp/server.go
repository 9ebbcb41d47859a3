// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package lsp implements a small Language Server Protocol server that updates
// copyright headers when the editor saves a document.
//
// The server tracks open documents with full text synchronization and answers
// textDocument/willSaveWaitUntil with the edits computed by package header.
// Editors apply those edits before writing the file.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf16"

	"go.astrophena.name/copyrightyear/header"
	"go.astrophena.name/copyrightyear/logger"
	"go.astrophena.name/copyrightyear/syncx"
)

// ErrExitWithoutShutdown is returned by [Server.Serve] when the client sends
// exit without a prior shutdown request.
var ErrExitWithoutShutdown = errors.New("lsp: exit received before shutdown")

// Server is a language server. The zero value is ready to use.
// A Server serves one connection at a time.
type Server struct {
	// Name and Version are reported to the client in serverInfo.
	Name    string
	Version string
	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time

	docs        syncx.Map[DocumentURI, string]
	initialized bool
	shutdown    bool
}

type readResult struct {
	data []byte
	err  error
}

// Serve reads messages from r and writes responses to w until the client
// exits, r is exhausted or ctx is canceled. Messages are handled one at a
// time in the order they arrive.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	c := newConn(r, w)

	incoming := make(chan readResult)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			data, err := c.readRaw()
			select {
			case incoming <- readResult{data, err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var rr readResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rr = <-incoming:
		}
		if rr.err != nil {
			if errors.Is(rr.err, io.EOF) {
				return nil
			}
			return rr.err
		}

		var msg message
		if err := json.Unmarshal(rr.data, &msg); err != nil {
			logger.Warn(ctx, "malformed message", slog.Any("err", err))
			if err := c.write(&message{ID: json.RawMessage("null"), Error: errorf(CodeParseError, "%v", err)}); err != nil {
				return err
			}
			continue
		}

		if msg.Method == "exit" {
			if !s.shutdown {
				return ErrExitWithoutShutdown
			}
			return nil
		}

		if err := s.handle(ctx, c, &msg); err != nil {
			return err
		}
	}
}

// handle dispatches one message and, for requests, writes the response.
func (s *Server) handle(ctx context.Context, c *conn, msg *message) error {
	if msg.Method == "" {
		// A response to a request we never send.
		return nil
	}

	logger.Debug(ctx, "received", slog.String("method", msg.Method), slog.Bool("request", msg.isRequest()))

	result, rpcErr := s.dispatch(ctx, msg)
	if !msg.isRequest() {
		if rpcErr != nil {
			logger.Warn(ctx, "notification failed", slog.String("method", msg.Method), slog.Any("err", rpcErr))
		}
		return nil
	}

	resp := &message{ID: msg.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
		return c.write(resp)
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = errorf(CodeInternalError, "%v", err)
		return c.write(resp)
	}
	resp.Result = data
	return c.write(resp)
}

func (s *Server) dispatch(ctx context.Context, msg *message) (any, *Error) {
	if !s.initialized && msg.Method != "initialize" {
		return nil, errorf(CodeServerNotInitialized, "server not initialized")
	}
	if s.shutdown {
		return nil, errorf(CodeInvalidRequest, "server is shutting down")
	}

	switch msg.Method {
	case "initialize":
		return s.initialize(ctx, msg.Params)
	case "initialized":
		return nil, nil
	case "shutdown":
		s.shutdown = true
		return nil, nil
	case "textDocument/didOpen":
		return s.didOpen(ctx, msg.Params)
	case "textDocument/didChange":
		return s.didChange(ctx, msg.Params)
	case "textDocument/didClose":
		return s.didClose(ctx, msg.Params)
	case "textDocument/willSaveWaitUntil":
		return s.willSaveWaitUntil(ctx, msg.Params)
	case "textDocument/willSave", "textDocument/didSave":
		return nil, nil
	}

	if !msg.isRequest() {
		// Unknown notifications, including $/ ones, are ignored.
		return nil, nil
	}
	return nil, errorf(CodeMethodNotFound, "method %q not found", msg.Method)
}

func unmarshalParams[T any](raw json.RawMessage) (T, *Error) {
	var v T
	if len(raw) == 0 {
		return v, errorf(CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errorf(CodeInvalidParams, "%v", err)
	}
	return v, nil
}

func (s *Server) initialize(ctx context.Context, raw json.RawMessage) (any, *Error) {
	if s.initialized {
		return nil, errorf(CodeInvalidRequest, "server already initialized")
	}
	params, err := unmarshalParams[InitializeParams](raw)
	if err != nil {
		return nil, err
	}
	if params.ClientInfo != nil {
		logger.Info(ctx, "client connected", slog.String("name", params.ClientInfo.Name), slog.String("version", params.ClientInfo.Version))
	}
	s.initialized = true

	res := &InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: TextDocumentSyncOptions{
				OpenClose:         true,
				Change:            SyncFull,
				WillSaveWaitUntil: true,
			},
		},
	}
	if s.Name != "" {
		res.ServerInfo = &ServerInfo{Name: s.Name, Version: s.Version}
	}
	return res, nil
}

func (s *Server) didOpen(ctx context.Context, raw json.RawMessage) (any, *Error) {
	params, err := unmarshalParams[DidOpenTextDocumentParams](raw)
	if err != nil {
		return nil, err
	}
	s.docs.Store(params.TextDocument.URI, params.TextDocument.Text)
	return nil, nil
}

func (s *Server) didChange(ctx context.Context, raw json.RawMessage) (any, *Error) {
	params, err := unmarshalParams[DidChangeTextDocumentParams](raw)
	if err != nil {
		return nil, err
	}
	uri := params.TextDocument.URI
	for _, change := range params.ContentChanges {
		if change.Range != nil {
			// Only full sync is advertised. Forget the document instead of
			// computing edits against stale text.
			logger.Warn(ctx, "ignoring incremental change", slog.String("uri", string(uri)))
			s.docs.Delete(uri)
			return nil, nil
		}
	}
	if n := len(params.ContentChanges); n > 0 {
		s.docs.Store(uri, params.ContentChanges[n-1].Text)
	}
	return nil, nil
}

func (s *Server) didClose(ctx context.Context, raw json.RawMessage) (any, *Error) {
	params, err := unmarshalParams[DidCloseTextDocumentParams](raw)
	if err != nil {
		return nil, err
	}
	s.docs.Delete(params.TextDocument.URI)
	return nil, nil
}

func (s *Server) willSaveWaitUntil(ctx context.Context, raw json.RawMessage) (any, *Error) {
	params, err := unmarshalParams[WillSaveTextDocumentParams](raw)
	if err != nil {
		return nil, err
	}
	uri := params.TextDocument.URI
	if !header.Supported(uri.Path()) {
		return nil, nil
	}
	text, ok := s.docs.Load(uri)
	if !ok {
		return nil, nil
	}

	edits := TextEdits(text, header.Edits(text, s.now().Year()))
	if len(edits) > 0 {
		logger.Info(ctx, "updating copyright year",
			slog.String("uri", string(uri)),
			slog.String("reason", params.Reason.String()),
			slog.String("line", edits[0].NewText),
		)
	}
	return edits, nil
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// TextEdits converts header edits on text into LSP text edits. Each edit
// covers its whole line, excluding the line terminator.
func TextEdits(text string, edits []header.Edit) []TextEdit {
	if len(edits) == 0 {
		return nil
	}
	lines := strings.Split(text, "\n")
	res := make([]TextEdit, 0, len(edits))
	for _, e := range edits {
		if e.Line < 0 || e.Line >= len(lines) {
			continue
		}
		line := strings.TrimSuffix(lines[e.Line], "\r")
		res = append(res, TextEdit{
			Range: Range{
				Start: Position{Line: e.Line},
				End:   Position{Line: e.Line, Character: utf16Len(line)},
			},
			NewText: e.Text,
		})
	}
	return res
}

func utf16Len(s string) int {
	var n int
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
