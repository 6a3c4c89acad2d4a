// Package discovery finds MusicCast devices on the local network.
//
// A search cycle has two stages, following the UPnP architecture: an SSDP
// M-SEARCH multicast for MediaRenderer devices, then a description fetch
// of each responder's LOCATION URL. Only devices whose description
// identifies Yamaha extended-control hardware produce a device handle.
//
// The service emits handles on a channel; it never touches the device
// registry itself. Duplicate handles for already-known devices are the
// consumer's problem, which keeps this package free of shared state.
package discovery
