package main

// General API documentation for swaggo. The served document lives in
// internal/httpapi/swagger.go and is compiled with -tags=swagger.
//
// @title           llavad API
// @version         1.0
// @description     HTTP API for local multimodal chat: model catalog, downloads, loading and chat turns.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
