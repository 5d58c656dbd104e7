// Package grading computes scores from test outcomes, static analysis findings,
// submission policy penalties and manual feedback. Everything here is pure:
// callers load the exercise configuration and persist the outcome.
package grading
