package runconfig

// DefaultCatalog is the closed set of LISA suite definitions shipped under the
// LISA xml directory, in the order they are scheduled.
var DefaultCatalog = []string{
	"CoreTests.xml",
	"KvpTests.xml",
	"Kdump_Tests.xml",
	"LTP.xml",
	"NET_Tests.xml",
	"NET_Tests_IPv6.xml",
	"NMI_Tests.xml",
	"Production_Checkpoint.xml",
	"STOR_VHD.xml",
	"STOR_VHDX.xml",
	"STOR_VHDXResize.xml",
	"FCopy_Tests.xml",
	"STOR_VSS_Backup_Tests.xml",
	"StressTests.xml",
	"VMBus_Tests.xml",
	"lsvmbus.xml",
}

// DefaultSecondaryVMSuites are the suites whose definition holds a second,
// non-SUT VM (the LTP network peer).
var DefaultSecondaryVMSuites = []string{"LTP.xml"}

// SecondaryVMNameParam is the generalConfig.testParams key naming the non-SUT VM.
const SecondaryVMNameParam = "VM2NAME"
