// Package wifi manages the station interface through the system network
// manager.
//
// All radio work is delegated to nmcli: scanning, joining, leaving.
// Commands run through a Runner so tests can substitute canned output.
//
// # Test-Before-Commit
//
// Provisioning never trusts credentials as-given. Manager.StartTest joins
// the network with the candidate credentials under a deadline; the caller
// polls the tester and only persists the credentials once the join
// succeeded. The tester also backs the provisioning progress readout via
// Elapsed.
package wifi
