// Package log defines the minimal structured logging contract shared by all
// library components, decoupled from any concrete logging backend.
package log
