// Package configstore persists device provisioning: WiFi credentials and
// the positional parameter vector the companion app sends over BLE.
//
// # Record Layout
//
// The record lives in the "appcfg" namespace of the kv_store table, one
// row per key:
//
//	ok      1 byte   validity marker (commit flag)
//	ssid    bytes    WiFi SSID
//	pass    bytes    WiFi password
//	p_cnt   uint32   parameter count, little-endian
//	p_blob  bytes    p_cnt * 4 bytes of little-endian float32
//
// # Crash Safety
//
// Save writes the marker false, then the data keys, then the marker true,
// each as a separate durable statement. Power loss at any point leaves
// either the old record or an invalid marker - Load never returns a mixed
// record. See Store.Save.
//
// # Message Parsing
//
// ParseMessage and Command implement the compact provisioning JSON the
// companion app speaks. The parser is hand-rolled: it must stay tolerant
// of unknown keys from newer app versions while being strict about the
// ssid/pass it actually needs, and encoding/json's error surface doesn't
// distinguish those cases.
package configstore
