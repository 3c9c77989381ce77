// Package logger provides adapters for popular logging libraries to work
// with blinkmap's Logger interface.
//
// The adapters allow you to use your existing logger with blinkmap without
// writing boilerplate. Note that the standard library's slog.Logger already
// implements blinkmap.Logger directly.
//
// Example with zap:
//
//	import (
//	    "blinkmap"
//	    "blinkmap/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    tree, err := blinkmap.Open("index", blinkmap.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer tree.Close()
//	}
package logger
