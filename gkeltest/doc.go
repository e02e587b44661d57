/*
Package gkeltest provides helpers for testing gkel packages: deterministic
keys, commitments and thresholds. It must only be imported by test code.
*/
package gkeltest
