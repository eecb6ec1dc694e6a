// Package submission holds the lifecycle rules for content submissions.
//
// Submissions are immutable values. Transition validates a requested status
// change against the lifecycle table and returns a new value; it never
// modifies its input and never provides mutual exclusion. Callers that
// transition the same submission concurrently must serialize themselves
// (the store does this with a compare-and-set on the previous status).
package submission
