// Package studio implements manager.Client for each supported web service.
//
// Each client drives one browser session through the page interface, which
// *browser.Session satisfies. Response parsing is kept in pure functions
// (parse_aistudio.go, parse_doubao.go) so it can be tested without a browser.
// The simulated client never touches a browser and backs local runs and
// end-to-end tests.
package studio
