// SPDX-License-Identifier: MIT
package transport

import (
	applog "lightbeat/internal/log"
)

// LoggingTransport is the fallback delivery path: it writes feature summaries
// to the debug log and is used when no network transport is enabled.
type LoggingTransport struct{}

// NewLoggingTransport creates the logging delivery path.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("transport: using logging transport")
	return &LoggingTransport{}
}

// Send logs the payload at debug level. It never fails.
func (lt *LoggingTransport) Send(data any) error {
	applog.Debugf("transport: %+v", data)
	return nil
}

// Close is a no-op.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
