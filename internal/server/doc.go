// Package server bootstraps the registry: it resolves plugins, initializes
// storage, assembles the request pipeline and hands back a ready Server.
// Startup is strictly sequential and any failure aborts it with a
// StartupError naming the state that could not be reached; no Server is
// produced in that case.
package server
