// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package peel

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// HandleStream handles GET /v1/peel/stream.
//
// Description:
//
//	Upgrades to a websocket and sends every stored run as a
//	store.Summary JSON message, oldest first. It then polls the store
//	and sends each run it has not sent before. Client messages are read
//	and discarded; the stream ends when the client closes.
func (h *Handlers) HandleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("run stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := make(map[string]bool)
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		if err := h.sendNewRuns(ctx, ws, sent); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("run stream closed", slog.String("error", err.Error()))
			}
			return
		}
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

func (h *Handlers) sendNewRuns(ctx context.Context, ws *websocket.Conn, sent map[string]bool) error {
	runs, err := h.store.ListRuns(ctx)
	if err != nil {
		return err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		if sent[run.ID] {
			continue
		}
		if err := ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
			return err
		}
		if err := ws.WriteJSON(run); err != nil {
			return err
		}
		sent[run.ID] = true
	}
	return nil
}
