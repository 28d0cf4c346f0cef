package cluster

import (
	"github.com/dd0wney/cluso-collab/pkg/fabric"
)

// FabricConnector links discovered peers on a messaging fabric
type FabricConnector struct {
	Fabric *fabric.Fabric
	// Endpoints derives the remote endpoints of a record
	Endpoints func(rec PeerRecord) fabric.Endpoints
}

var _ Connector = (*FabricConnector)(nil)

// NewFabricConnector derives endpoints with the registry's scheme and offsets
func NewFabricConnector(f *fabric.Fabric, cfg RegistryConfig) *FabricConnector {
	cfg.ApplyDefaults()
	return &FabricConnector{
		Fabric: f,
		Endpoints: func(rec PeerRecord) fabric.Endpoints {
			return cfg.EndpointsFor(rec.Host, rec.Port)
		},
	}
}

func (c *FabricConnector) ConnectPeer(rec PeerRecord) error {
	return c.Fabric.Connect(rec.ID, c.Endpoints(rec))
}

func (c *FabricConnector) DisconnectPeer(id string) error {
	return c.Fabric.Disconnect(id)
}
