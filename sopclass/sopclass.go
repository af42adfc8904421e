// Package sopclass defines the SOP class UIDs and query/retrieve
// information models used during association negotiation.
package sopclass

// SOPUID is a named SOP class UID.
type SOPUID struct {
	Name string
	UID  string
}

const (
	Verification = "1.2.840.10008.1.1"

	PatientRootQRFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQRMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQRGet  = "1.2.840.10008.5.1.4.1.2.1.3"

	StudyRootQRFind = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQRMove = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQRGet  = "1.2.840.10008.5.1.4.1.2.2.3"

	PatientStudyOnlyQRFind = "1.2.840.10008.5.1.4.1.2.3.1"
	PatientStudyOnlyQRMove = "1.2.840.10008.5.1.4.1.2.3.2"
	PatientStudyOnlyQRGet  = "1.2.840.10008.5.1.4.1.2.3.3"

	ModalityWorklistFind = "1.2.840.10008.5.1.4.31"

	UnifiedProcedureStepPush = "1.2.840.10008.5.1.4.34.6.1"
	UnifiedProcedureStepPull = "1.2.840.10008.5.1.4.34.6.3"

	HangingProtocolFind = "1.2.840.10008.5.1.4.38.2"
	HangingProtocolMove = "1.2.840.10008.5.1.4.38.3"
	HangingProtocolGet  = "1.2.840.10008.5.1.4.38.4"

	ColorPaletteFind = "1.2.840.10008.5.1.4.39.2"
	ColorPaletteMove = "1.2.840.10008.5.1.4.39.3"
	ColorPaletteGet  = "1.2.840.10008.5.1.4.39.4"
)

// VerificationClasses is the abstract syntax list for C-ECHO.
var VerificationClasses = []SOPUID{
	{"Verification", Verification},
}

// StorageClasses lists the composite storage SOP classes offered by default
// for C-STORE and accepted by the storage SCP.
var StorageClasses = []SOPUID{
	{"ComputedRadiographyImageStorage", "1.2.840.10008.5.1.4.1.1.1"},
	{"DigitalXRayImageStorageForPresentation", "1.2.840.10008.5.1.4.1.1.1.1"},
	{"DigitalMammographyXRayImageStorageForPresentation", "1.2.840.10008.5.1.4.1.1.1.2"},
	{"CTImageStorage", "1.2.840.10008.5.1.4.1.1.2"},
	{"EnhancedCTImageStorage", "1.2.840.10008.5.1.4.1.1.2.1"},
	{"UltrasoundMultiFrameImageStorage", "1.2.840.10008.5.1.4.1.1.3.1"},
	{"MRImageStorage", "1.2.840.10008.5.1.4.1.1.4"},
	{"EnhancedMRImageStorage", "1.2.840.10008.5.1.4.1.1.4.1"},
	{"UltrasoundImageStorage", "1.2.840.10008.5.1.4.1.1.6.1"},
	{"SecondaryCaptureImageStorage", "1.2.840.10008.5.1.4.1.1.7"},
	{"MultiFrameGrayscaleByteSecondaryCaptureImageStorage", "1.2.840.10008.5.1.4.1.1.7.2"},
	{"MultiFrameGrayscaleWordSecondaryCaptureImageStorage", "1.2.840.10008.5.1.4.1.1.7.3"},
	{"MultiFrameTrueColorSecondaryCaptureImageStorage", "1.2.840.10008.5.1.4.1.1.7.4"},
	{"XRayAngiographicImageStorage", "1.2.840.10008.5.1.4.1.1.12.1"},
	{"XRayRadiofluoroscopicImageStorage", "1.2.840.10008.5.1.4.1.1.12.2"},
	{"NuclearMedicineImageStorage", "1.2.840.10008.5.1.4.1.1.20"},
	{"VLEndoscopicImageStorage", "1.2.840.10008.5.1.4.1.1.77.1.1"},
	{"VLPhotographicImageStorage", "1.2.840.10008.5.1.4.1.1.77.1.4"},
	{"PositronEmissionTomographyImageStorage", "1.2.840.10008.5.1.4.1.1.128"},
	{"RTImageStorage", "1.2.840.10008.5.1.4.1.1.481.1"},
	{"RTDoseStorage", "1.2.840.10008.5.1.4.1.1.481.2"},
	{"RTStructureSetStorage", "1.2.840.10008.5.1.4.1.1.481.3"},
	{"RTPlanStorage", "1.2.840.10008.5.1.4.1.1.481.5"},
}

// InformationModel describes one query/retrieve information model: the SOP
// class UID per DIMSE verb plus its matching behavior. Worklist-style models
// carry no QueryRetrieveLevel and enable relational plus datetime matching
// implicitly.
type InformationModel struct {
	Name     string
	Find     string
	Move     string
	Get      string
	Worklist bool
}

var (
	PatientRoot          = InformationModel{"PatientRoot", PatientRootQRFind, PatientRootQRMove, PatientRootQRGet, false}
	StudyRoot            = InformationModel{"StudyRoot", StudyRootQRFind, StudyRootQRMove, StudyRootQRGet, false}
	PatientStudyOnly     = InformationModel{"PatientStudyOnly", PatientStudyOnlyQRFind, PatientStudyOnlyQRMove, PatientStudyOnlyQRGet, false}
	ModalityWorklist     = InformationModel{"ModalityWorklist", ModalityWorklistFind, "", "", true}
	UnifiedProcedureStep = InformationModel{"UnifiedProcedureStep", UnifiedProcedureStepPull, "", "", true}
	HangingProtocol      = InformationModel{"HangingProtocol", HangingProtocolFind, HangingProtocolMove, HangingProtocolGet, true}
	ColorPalette         = InformationModel{"ColorPalette", ColorPaletteFind, ColorPaletteMove, ColorPaletteGet, true}
)

// QRFindClasses is the abstract syntax list offered for C-FIND.
var QRFindClasses = []SOPUID{
	{"PatientRootQRFind", PatientRootQRFind},
	{"StudyRootQRFind", StudyRootQRFind},
	{"PatientStudyOnlyQRFind", PatientStudyOnlyQRFind},
	{"ModalityWorklistFind", ModalityWorklistFind},
	{"UnifiedProcedureStepPull", UnifiedProcedureStepPull},
	{"HangingProtocolFind", HangingProtocolFind},
	{"ColorPaletteFind", ColorPaletteFind},
}

// QRMoveClasses is the abstract syntax list offered for C-MOVE.
var QRMoveClasses = []SOPUID{
	{"PatientRootQRMove", PatientRootQRMove},
	{"StudyRootQRMove", StudyRootQRMove},
	{"PatientStudyOnlyQRMove", PatientStudyOnlyQRMove},
	{"HangingProtocolMove", HangingProtocolMove},
	{"ColorPaletteMove", ColorPaletteMove},
}

// QRGetClasses is the abstract syntax list offered for C-GET.
var QRGetClasses = []SOPUID{
	{"PatientRootQRGet", PatientRootQRGet},
	{"StudyRootQRGet", StudyRootQRGet},
	{"PatientStudyOnlyQRGet", PatientStudyOnlyQRGet},
	{"HangingProtocolGet", HangingProtocolGet},
	{"ColorPaletteGet", ColorPaletteGet},
}

// UIDs flattens a SOPUID list into its UID strings.
func UIDs(classes []SOPUID) []string {
	uids := make([]string, 0, len(classes))
	for _, c := range classes {
		uids = append(uids, c.UID)
	}
	return uids
}
