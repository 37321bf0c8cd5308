package proto

// Node describes one cluster member owning chunks.
type Node struct {
	ID       NodeID `json:"id"`
	Addr     string `json:"addr"`
	GrpcPort uint32 `json:"grpc_port"`
	HttpPort uint32 `json:"http_port"`
}
