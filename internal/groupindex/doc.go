// Package groupindex records, per message group, which message IDs are valid
// and for which side. Every ID owns a 2-bit lane: bit 0 marks the ID as
// handled on the client, bit 1 as handled on the server.
//
// Two implementations share the Indexer contract. MapIndexer stores only
// populated 32-bit words in a hash map and favors memory. BitmapIndexer keeps
// a fixed three-level array tree that grows up to the highest registered ID
// and answers queries with plain indexing and no locks.
package groupindex
