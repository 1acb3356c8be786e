package types

type Version struct {
	Version                     string `json:"version"`
	BridgectlVersionRequired    string `json:"bridgectlVersionRequired"`
	BridgectlVersionRecommended string `json:"bridgectlVersionRecommended"`
}

var CurrentVersion = Version{
	Version:                     "1.2.0",
	BridgectlVersionRequired:    "1.1.0",
	BridgectlVersionRecommended: "1.2.0",
}
