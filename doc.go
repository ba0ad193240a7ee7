// Package cyxnet is the connectivity and naming substrate of a
// serverless peer-to-peer messenger.
//
// A node is one Ed25519 identity on one UDP socket. The package wires
// three subsystems behind a single facade: a connection manager that
// establishes direct paths across NATs (STUN discovery, paced hole
// punching, relay fallback), a Kademlia-style peer directory for
// finding peers and storing small signed records, and a gossip name
// service that maps human-readable names to peer identities with
// last-writer-wins semantics.
//
// # Getting Started
//
// Create a node, register callbacks, join the network, and drive the
// iteration loop:
//
//	options := cyxnet.NewOptions()
//
//	node, err := cyxnet.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Kill()
//
//	node.OnPeerState(func(peer cyxnet.PeerID, state cyxnet.PeerState) {
//	    fmt.Printf("%s is now %s\n", node.DisplayName(peer), state)
//	})
//	node.OnPeerData(func(peer cyxnet.PeerID, payload []byte) {
//	    fmt.Printf("from %s: %s\n", node.DisplayName(peer), payload)
//	})
//
//	err = node.Bootstrap("directory.example.com", 33445,
//	    "af31c7e66d4f24f5ab3bc12d4de8cb79cd61515ba5b438496a4b69b3d3e7cada")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for node.IsRunning() {
//	    node.Iterate()
//	    time.Sleep(node.IterationInterval())
//	}
//
// # Connecting to Peers
//
// Connections are established by peer identity; an address hint speeds
// things up when the directory has no entry yet:
//
//	err := node.Connect(peerID, "")
//
//	node.OnPeerState(func(peer cyxnet.PeerID, state cyxnet.PeerState) {
//	    if state.Established() {
//	        node.Send(peer, []byte("hello"))
//	    }
//	})
//
// Whether the path is direct or relayed is invisible to Send; IsRelayed
// answers when the application cares.
//
// # Names
//
// A node may register one human-readable name, gossiped to the network
// and kept fresh automatically:
//
//	err := node.RegisterName("alice")
//
//	lookup, err := node.LookupName("bob")
//	if err == nil {
//	    result := <-lookup.Results
//	    if result.Err == nil {
//	        fmt.Printf("bob is %s\n", result.Record.Owner)
//	    }
//	}
//
// Every peer also has a derived crypto-name (eight base32 characters of
// its identity digest) that resolves locally without any network
// traffic, and petnames provide local-only display names that override
// everything else.
//
// # Event Delivery
//
// All callbacks fire from Iterate on the calling goroutine. Network
// handlers only parse and queue; nothing reaches application code from
// a socket read loop.
package cyxnet
