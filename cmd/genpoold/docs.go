package main

// General API documentation for swaggo. Run `swag init -g cmd/genpoold/docs.go`
// and build with `-tags swagger` to serve it.
//
// @title           genpool API
// @version         1.0
// @description     Image generation through a pool of logged-in browser instances.
//
// @contact.name   genpool maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
