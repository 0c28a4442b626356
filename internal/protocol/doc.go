// Package protocol defines the messages exchanged between brick runners.
//
// Every frame starts with a three byte header followed by the body:
//
//	+---------+------+-------+------------------+
//	| version | type | flags | body (JSON/zstd) |
//	+---------+------+-------+------------------+
//
// The type byte tells the receiver how to decode the body, so the same
// connection can carry registrations, packet requests, packets and source
// announcements without guessing. Flag bit 0 marks a zstd compressed body.
//
// Conversation between a downstream Input and an upstream Output:
//
//	Input                                Output
//	  | --- ConsumerRegistration ------>   |
//	  | --- PacketRequest(25) --------->   |
//	  | <-- Packet ---------------------   |  (up to 25 times)
//	  | --- PacketRequest(25) --------->   |
//	  | <-- EndOfStream ----------------   |  (on shutdown)
//
// A runner may also receive a SourceAnnouncement on a fresh connection, telling
// it to pull from a new upstream Output.
package protocol
