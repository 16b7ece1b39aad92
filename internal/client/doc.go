// Package client is a Go client for the pulsar-gateway HTTP API.
//
// Mutating calls are signed with the SSH key passed to WithSigner; the key's
// identity is used as authority or payer:
//
//	signer, _ := ssh.ParsePrivateKey(pem)
//	c := client.New("http://localhost:8080", client.WithSigner(signer))
//	gw, err := c.Initialize(ctx, 100000)
//
// Non-2xx responses are returned as *APIError carrying the program error code.
package client
