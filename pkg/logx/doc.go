// Package logx configures versebot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional admin chat sink (min-level + rate limiting)
package logx
