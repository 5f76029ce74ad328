package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/rendercheck"
	"github.com/vkngwrapper/rendercheck/capability"
	"github.com/vkngwrapper/rendercheck/readback"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var (
	validation = flag.Bool("validation", false, "enable the Khronos validation layer and a debug messenger")
	verbose    = flag.Bool("verbose", false, "log per-stage progress at debug level")
)

type app struct {
	log *slog.Logger

	loader    *core.VulkanLoader
	instance  core1_0.Instance
	messenger ext_debug_utils.DebugUtilsMessenger
	device    core1_0.Device

	profile *capability.DeviceProfile
	harness *rendercheck.Harness
}

func (a *app) run() error {
	defer a.cleanup()

	err := a.initVulkan()
	if err != nil {
		return err
	}

	start := hrtime.Now()
	pixel, err := a.harness.Run()
	elapsed := hrtime.Since(start)
	if err != nil {
		return err
	}

	a.log.Info("readback verified", "pixel", pixel.String(), "elapsed", elapsed)
	fmt.Printf("pixel (0, 0) = %s in %s\n", pixel, elapsed)
	return nil
}

func (a *app) initVulkan() error {
	err := a.createInstance()
	if err != nil {
		return err
	}
	err = a.createDevice()
	if err != nil {
		return err
	}
	return nil
}

func (a *app) createInstance() error {
	loader, err := core.CreateSystemLoader()
	if err != nil {
		return errors.Wrap(err, "load vulkan")
	}
	a.loader = loader

	available, _, err := loader.AvailableLayers()
	if err != nil {
		return errors.Wrap(err, "enumerate instance layers")
	}
	for name, layer := range available {
		a.log.Info("instance layer", "name", name, "description", layer.Description)
	}

	var layerNames []string
	var extensionNames []string
	var next common.NextOptions
	if *validation {
		if _, ok := available[validationLayer]; !ok {
			return errors.Newf("%s requested but not installed", validationLayer)
		}
		layerNames = append(layerNames, validationLayer)
		extensionNames = append(extensionNames, ext_debug_utils.ExtensionName)
		next = common.NextOptions{Next: a.debugMessengerOptions()}
	}

	instance, _, err := loader.CreateInstance(nil, core1_0.InstanceCreateInfo{
		ApplicationName:       "rendercheck",
		ApplicationVersion:    common.CreateVersion(1, 0, 0),
		EngineName:            "none",
		EngineVersion:         common.CreateVersion(1, 0, 0),
		APIVersion:            common.Vulkan1_0,
		EnabledLayerNames:     layerNames,
		EnabledExtensionNames: extensionNames,
		NextOptions:           next,
	})
	if err != nil {
		return errors.Wrap(err, "create instance")
	}
	a.instance = instance

	if *validation {
		debugUtils := ext_debug_utils.CreateExtensionFromInstance(instance)
		a.messenger, _, err = debugUtils.CreateDebugUtilsMessenger(instance, nil, a.debugMessengerOptions())
		if err != nil {
			return errors.Wrap(err, "create debug messenger")
		}
	}
	return nil
}

func (a *app) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    a.logDebugMessage,
	}
}

func (a *app) logDebugMessage(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	a.log.Warn("validation", "type", msgType.String(), "severity", severity.String(), "message", data.Message)
	return false
}

func (a *app) createDevice() error {
	gpus, _, err := a.instance.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "enumerate physical devices")
	}
	if len(gpus) == 0 {
		return errors.New("no vulkan-capable device present")
	}
	gpu := gpus[0]

	profile, err := capability.Probe(gpu)
	if err != nil {
		return err
	}
	a.profile = profile
	profile.Log(a.log)

	familyIndex, err := profile.SelectQueueFamily(core1_0.QueueGraphics)
	if err != nil {
		return err
	}

	device, _, err := gpu.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: familyIndex,
				QueuePriorities:  []float32{1},
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create logical device")
	}
	a.device = device

	a.harness, err = rendercheck.New(rendercheck.DeviceContext{
		Device:           device,
		Queue:            device.GetQueue(familyIndex, 0),
		QueueFamilyIndex: familyIndex,
		MemoryTypes:      profile.MemoryTypes,
	}, rendercheck.Options{Logger: a.log})
	return err
}

func (a *app) cleanup() {
	if a.harness != nil {
		a.harness.Close()
	}
	if a.device != nil {
		a.device.Destroy(nil)
	}
	if a.messenger != nil {
		a.messenger.Destroy(nil)
	}
	if a.instance != nil {
		a.instance.Destroy(nil)
	}
}

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	a := &app{
		log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}

	err := a.run()
	if err != nil {
		var mismatch *readback.VerificationError
		if errors.As(err, &mismatch) {
			log.Fatalf("readback verification failed: %s", mismatch)
		}
		log.Fatalf("%+v", err)
	}
}
