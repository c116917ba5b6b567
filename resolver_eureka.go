package halogate

// EurekaResolver is a placeholder ServiceResolver for a Eureka-style service
// discovery backend. It is intentionally unimplemented: discovery-based
// resolution is out of scope for this gateway, but the type is kept on
// record so ServiceResolver's extension point has more than one
// implementation in the tree.
type EurekaResolver struct {
	EurekaURL string
}

func NewEurekaResolver(eurekaURL string) *EurekaResolver {
	return &EurekaResolver{EurekaURL: eurekaURL}
}

func (r *EurekaResolver) Resolve(_ string) (string, error) {
	return "", NewInternal("eureka service discovery is not implemented")
}
