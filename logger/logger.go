// Package logger adapts common logging libraries to ordex.Logger.
//
// The standard library's slog.Logger already satisfies ordex.Logger and
// needs no adapter. For zap:
//
//	zl, _ := zap.NewProduction()
//	idx, err := ordex.New(ordex.TypeString, true,
//		ordex.WithFile("names.odx"),
//		ordex.WithLogger(logger.NewZap(zl)))
package logger
