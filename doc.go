/*
Package couchfdb maps a document database (databases holding documents, each
tracked by a revision) onto the flat ordered key space of a transactional
key-value store such as FoundationDB.

We implement:

1. The tuple codec, an order-preserving encoding of typed element sequences.

2. Subspaces (key prefixes) with key and range builders.

3. The catalog: the database listing and per-database document listings.

4. Lazy, paginated range enumeration producing Database and DocumentRow values.

The store itself is external; Store and Tx describe what we need from it.
In-memory, Bolt and LevelDB implementations are provided.

# Technical Details

**Tuple encoding.**
Same as the FoundationDB tuple layer: each element starts with a type code.
Byte strings (0x01) and strings (0x02) are terminated by 0x00, with embedded
0x00 bytes escaped as 0x00 0xFF. Integers (0x0c..0x1c) store the minimal
big-endian magnitude, ones'-complemented for negative values, with the type
code holding the sign and length. Nested tuples (0x05) end with 0x00; nil
inside them is 0x00 0xFF.

**Directory.**
The root subspace is the value of a single well-known key, laid out like a
FoundationDB directory-layer node entry (see DirectoryKey).

**Database listing.**
Key: root || (1, name:bytes). Value: the database's subspace prefix.

**Document listing.**
Key: db || (18, id:bytes). Value: (generation:int, hash:bytes).

**Ranges.**
A range over everything under tuple t in subspace s is
[s || t, s || t || 0xFF], resolved as first key >= start and first key > end.
*/
package couchfdb
