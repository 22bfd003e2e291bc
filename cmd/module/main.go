package main

import (
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"

	soArm "gripper-engine"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: gripper.API, Model: soArm.SO101GripperModel},
		resource.APIModel{API: discovery.API, Model: soArm.SO101DiscoveryModel},
	)
}
