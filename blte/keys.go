package blte

// KeyResolver supplies decryption keys for encrypted chunks. Implementations
// may be slow (remote lookups); the decoder calls ResolveKey synchronously,
// once per encrypted chunk.
type KeyResolver interface {
	ResolveKey(name []byte) (key []byte, ok bool)
}

// KeyResolverFunc adapts a function to the KeyResolver interface.
type KeyResolverFunc func(name []byte) ([]byte, bool)

func (f KeyResolverFunc) ResolveKey(name []byte) ([]byte, bool) { return f(name) }

// NoKeys never resolves a key. Decoding an encrypted chunk with it fails with
// a core.KeyNotFoundError.
var NoKeys KeyResolver = KeyResolverFunc(func([]byte) ([]byte, bool) { return nil, false })
