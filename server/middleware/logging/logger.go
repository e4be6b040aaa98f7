// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package logging

import (
	"log/slog"
	"time"

	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/log"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
)

// CtxGUIDKey is the gin context key carrying the request GUID.
const CtxGUIDKey = "guid"

// LoggerMiddleware assigns a GUID to each request and logs method, path,
// status and latency once the handler chain finishes.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	logger = log.GetLogger(logger)

	return func(ctx *gin.Context) {
		guid := ksuid.New().String()
		ctx.Set(CtxGUIDKey, guid)

		start := time.Now()

		ctx.Next()

		latency := time.Since(start)

		attrs := []any{
			definitions.LogKeyGUID, guid,
			definitions.LogKeyClientIP, ctx.ClientIP(),
			definitions.LogKeyMethod, ctx.Request.Method,
			definitions.LogKeyUriPath, ctx.Request.URL.Path,
			definitions.LogKeyStatus, ctx.Writer.Status(),
			definitions.LogKeyLatency, latency.Milliseconds(),
		}

		if err := ctx.Errors.Last(); err != nil {
			logger.Error("HTTP request", append(attrs, definitions.LogKeyError, err.Error())...)

			return
		}

		logger.Info("HTTP request", attrs...)
	}
}
