// Package middleware contains the built-in request stages and the error
// recovery chain shared by every registry instance.
package middleware
