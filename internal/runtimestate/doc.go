// Package runtimestate coordinates live per-perspective playback state.
// Every mutation funnels through one reducer so out-of-order async
// callbacks cannot race, and an unchanged patch returns the same map so
// observers can cheaply detect "nothing happened".
package runtimestate
