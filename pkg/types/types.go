package types

import "math"

// Path tags which branch of a stage produced its output.
type Path string

const (
	PathPrimary               Path = "primary"
	PathFallbackSkin          Path = "fallback_skin"
	PathFallbackCenterCrop    Path = "fallback_center_crop"
	PathFallbackApproximation Path = "fallback_approximation"
	PathFallbackBlob          Path = "fallback_blob"
	PathFailOpen              Path = "fail_open"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is a pixel rectangle inside a concrete image.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Point is a normalized image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Hand is one hand reported by a landmark or vision detector.
type Hand struct {
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
	Fingertips []Point `json:"fingertips,omitempty"`
}

// HandDetection is the raw output of a hand detector.
type HandDetection struct {
	Hands []Hand `json:"hands"`
}

// SubjectPresenceInfo describes how the upload gate decided a hand is present.
type SubjectPresenceInfo struct {
	Detected       bool    `json:"detected"`
	Confidence     float64 `json:"confidence"`
	Count          int     `json:"count"`
	Method         string  `json:"method"`
	Path           Path    `json:"path"`
	SkinCoverage   float64 `json:"skin_coverage,omitempty"`
	VisibleFingers int     `json:"visible_fingers,omitempty"`
	Box            *Box    `json:"box,omitempty"`
	Warning        string  `json:"warning,omitempty"`
}

// ConfounderMetrics are the color statistics the nail-polish check is based on.
type ConfounderMetrics struct {
	MeanSaturation  float64 `json:"mean_saturation"`
	StdSaturation   float64 `json:"std_saturation"`
	MeanValue       float64 `json:"mean_value"`
	BiologicalRatio float64 `json:"biological_hue_ratio"`
}

// ConfounderResult is the outcome of the nail-polish check.
type ConfounderResult struct {
	Detected   bool              `json:"detected"`
	Confidence float64           `json:"confidence"`
	Reasons    []string          `json:"reasons,omitempty"`
	Metrics    ConfounderMetrics `json:"metrics"`
	Path       Path              `json:"path"`
}

// QualityReport is produced by the quality controller.
type QualityReport struct {
	Sharpness   float64  `json:"sharpness"`
	Brightness  float64  `json:"brightness"`
	Contrast    float64  `json:"contrast"`
	MotionBlur  float64  `json:"motion_blur_score"`
	Pass        bool     `json:"pass"`
	FailReasons []string `json:"fail_reasons"`
	Warnings    []string `json:"warnings,omitempty"`
}

// PreprocessingReport summarizes what normalization did to the image.
type PreprocessingReport struct {
	ToneCluster       int        `json:"skin_tone_cluster"`
	LabMean           [3]float64 `json:"lab_mean"`
	ScalingFactor     float64    `json:"scaling_factor"`
	GlareCoverage     float64    `json:"glare_coverage"`
	GlareInpainted    bool       `json:"glare_inpainted"`
	OriginalImage     string     `json:"original_image,omitempty"`
	PreprocessedImage string     `json:"preprocessed_image,omitempty"`
}

// SegmentationReport describes the extracted region of interest.
type SegmentationReport struct {
	OverlapEstimate float64 `json:"overlap_estimate"`
	Coverage        float64 `json:"coverage"`
	ROI             Rect    `json:"roi"`
	Path            Path    `json:"path"`
	ROIImage        string  `json:"roi_image,omitempty"`
	MaskImage       string  `json:"mask_image,omitempty"`
}

// ColorFeatures are masked color statistics. Lab values use the 8-bit
// convention: L in [0,255], a and b offset by 128.
type ColorFeatures struct {
	MeanL    float64 `json:"mean_L"`
	MeanA    float64 `json:"mean_a"`
	MeanB    float64 `json:"mean_b"`
	MeanR    float64 `json:"mean_R"`
	MeanG    float64 `json:"mean_G"`
	MeanBlue float64 `json:"mean_B"`
	StdL     float64 `json:"std_L"`
	StdA     float64 `json:"std_a"`
	StdB     float64 `json:"std_b"`
	RatioRG  float64 `json:"ratio_R_G"`
	RatioRB  float64 `json:"ratio_R_B"`
	RatioAL  float64 `json:"ratio_a_L"`
}

type TextureFeatures struct {
	GLCMContrast    float64 `json:"glcm_contrast"`
	GLCMHomogeneity float64 `json:"glcm_homogeneity"`
	GLCMEnergy      float64 `json:"glcm_energy"`
	GLCMEntropy     float64 `json:"glcm_entropy"`
	LBPUniformity   float64 `json:"lbp_uniformity"`
	FFTHighFreq     float64 `json:"fft_highfreq_power"`
}

type VascularFeatures struct {
	Density            float64 `json:"vessel_density"`
	Thickness          float64 `json:"vessel_thickness"`
	OrientationEntropy float64 `json:"vessel_orientation_entropy"`
}

// FeatureVector groups the 21 named features extracted from a ROI.
type FeatureVector struct {
	Color    ColorFeatures    `json:"color"`
	Texture  TextureFeatures  `json:"texture"`
	Vascular VascularFeatures `json:"vascular"`
}

// ModelInputSize is the number of features consumed by predictors.
const ModelInputSize = 18

// ModelInputNames are the human-readable names of ModelInput, index for index.
var ModelInputNames = [ModelInputSize]string{
	"L* (Lightness)",
	"a* (Red-Green)",
	"b* (Blue-Yellow)",
	"Mean Red",
	"Mean Green",
	"Mean Blue",
	"R/G Ratio",
	"R/B Ratio",
	"GLCM Contrast",
	"GLCM Homogeneity",
	"GLCM Energy",
	"LBP Uniformity",
	"FFT High Freq",
	"Vessel Density",
	"Vessel Thickness",
	"Orientation Entropy",
	"L* Std Dev",
	"a*/L* Ratio",
}

// Indices into ModelInput used by predictors and explainers.
const (
	InputMeanL         = 0
	InputMeanR         = 3
	InputRatioRG       = 6
	InputLBPUniformity = 11
	InputVesselDensity = 13
)

// ModelInput returns the ordered predictor input.
func (f FeatureVector) ModelInput() [ModelInputSize]float64 {
	return [ModelInputSize]float64{
		f.Color.MeanL,
		f.Color.MeanA,
		f.Color.MeanB,
		f.Color.MeanR,
		f.Color.MeanG,
		f.Color.MeanBlue,
		f.Color.RatioRG,
		f.Color.RatioRB,
		f.Texture.GLCMContrast,
		f.Texture.GLCMHomogeneity,
		f.Texture.GLCMEnergy,
		f.Texture.LBPUniformity,
		f.Texture.FFTHighFreq,
		f.Vascular.Density,
		f.Vascular.Thickness,
		f.Vascular.OrientationEntropy,
		f.Color.StdL,
		f.Color.RatioAL,
	}
}

// Values returns all 21 features keyed by their JSON names.
func (f FeatureVector) Values() map[string]float64 {
	return map[string]float64{
		"mean_L":                     f.Color.MeanL,
		"mean_a":                     f.Color.MeanA,
		"mean_b":                     f.Color.MeanB,
		"mean_R":                     f.Color.MeanR,
		"mean_G":                     f.Color.MeanG,
		"mean_B":                     f.Color.MeanBlue,
		"std_L":                      f.Color.StdL,
		"std_a":                      f.Color.StdA,
		"std_b":                      f.Color.StdB,
		"ratio_R_G":                  f.Color.RatioRG,
		"ratio_R_B":                  f.Color.RatioRB,
		"ratio_a_L":                  f.Color.RatioAL,
		"glcm_contrast":              f.Texture.GLCMContrast,
		"glcm_homogeneity":           f.Texture.GLCMHomogeneity,
		"glcm_energy":                f.Texture.GLCMEnergy,
		"glcm_entropy":               f.Texture.GLCMEntropy,
		"lbp_uniformity":             f.Texture.LBPUniformity,
		"fft_highfreq_power":         f.Texture.FFTHighFreq,
		"vessel_density":             f.Vascular.Density,
		"vessel_thickness":           f.Vascular.Thickness,
		"vessel_orientation_entropy": f.Vascular.OrientationEntropy,
	}
}

// Finite reports whether every feature is a finite number.
func (f FeatureVector) Finite() bool {
	for _, v := range f.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Stage is an anemia severity category.
type Stage string

const (
	StageNormal   Stage = "normal"
	StageMild     Stage = "mild"
	StageModerate Stage = "moderate"
	StageSevere   Stage = "severe"
)

// Stages lists the categories in the order of class probabilities.
var Stages = [4]Stage{StageNormal, StageMild, StageModerate, StageSevere}

// FlagRetakeOrLabConfirm is set on predictions withheld for high uncertainty.
const FlagRetakeOrLabConfirm = "RETAKE_OR_LAB_CONFIRM"

// Prediction is the aggregated output of the Monte-Carlo predictor. When the
// uncertainty gate fires, Hb, Interval, Stage and Risk are nil.
type Prediction struct {
	Hb              *float64    `json:"hb"`
	Interval        *[2]float64 `json:"hb_ci"`
	Uncertainty     float64     `json:"uncertainty"`
	Stage           *Stage      `json:"anemia_stage"`
	Risk            *float64    `json:"risk_score"`
	UncertaintyFlag string      `json:"uncertainty_flag,omitempty"`
	Message         string      `json:"message,omitempty"`
	Passes          int         `json:"passes"`
}

// HasEstimate reports whether the prediction carries a hemoglobin value.
func (p Prediction) HasEstimate() bool {
	return p.Hb != nil
}

// FeatureImportance is one entry of an attribution ranking.
type FeatureImportance struct {
	Name         string  `json:"name"`
	Index        int     `json:"index"`
	Value        float64 `json:"value"`
	Importance   float64 `json:"importance"`
	Contribution float64 `json:"contribution"`
}

// Attribution explains which inputs drove a prediction.
type Attribution struct {
	TopFeatures    []FeatureImportance `json:"top_features"`
	AllFeatures    []FeatureImportance `json:"all_features"`
	Interpretation string              `json:"interpretation"`
	Method         string              `json:"method"`
	HeatmapPath    Path                `json:"heatmap_path"`
	Overlay        string              `json:"overlay,omitempty"`
}

// VersionInfo identifies the components that produced a scan.
type VersionInfo struct {
	Pipeline   string `json:"pipeline"`
	Preprocess string `json:"preprocess"`
	Segmenter  string `json:"segmenter"`
	Model      string `json:"hb_model"`
}
