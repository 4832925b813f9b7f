// Package rate throttles refresh exchanges per login session with Redis
// fixed-window counters: INCR, plus EXPIRE on the first hit of a window.
// Keys are "<prefix>:<session id>".
package rate
