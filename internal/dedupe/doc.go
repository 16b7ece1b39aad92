// Package dedupe provides a time-windowed replay guard for signed requests.
package dedupe
