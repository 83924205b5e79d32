package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultMediaSubDir    = "media"
	DefaultConfigSubDir   = "config"
	DefaultLogSubDir      = "log"
	DefaultUserdataSubDir = "userdata"

	ConfigFilename = "config.json"
)

// Paths are resolved once at startup from the working directory plus optional
// environment overrides. They are not part of the persisted AppConfig because
// the config file itself lives below ConfigDir.
type Paths struct {
	WorkingDir   string
	ConfigDir    string
	MediaDir     string
	LogDir       string
	UserdataDir  string
	DatabasePath string
}

// AppConfig is the tree of persisted configuration groups. It is loaded once
// at startup and snapshotted per job; updates take effect for the next job.
type AppConfig struct {
	Common          GroupCommon          `json:"common" validate:"required"`
	Backends        GroupBackends        `json:"backends" validate:"required"`
	Mediaprocessing GroupMediaprocessing `json:"mediaprocessing" validate:"required"`
	Actions         GroupActions         `json:"actions" validate:"required"`
	Share           GroupShare           `json:"share"`
	UISettings      GroupUISettings      `json:"uisettings"`
	Collection      GroupCollection      `json:"collection"`
}

type GroupCommon struct {
	LivestreamFramerate  int  `json:"livestream_framerate" validate:"gte=1,lte=30"`
	LivestreamEnable     bool `json:"livestream_enable"`
	LogsKeepDays         int  `json:"logs_keep_days" validate:"gte=1"`
	InformationIntervalS int  `json:"information_interval_s" validate:"gte=1"`
}

type GroupBackends struct {
	MainBackend string `json:"main_backend" validate:"required,oneof=virtual webcamcv2 webcamv4l picamera2 gphoto2 digicamcontrol wigglecam"`
	LiveBackend string `json:"live_backend" validate:"omitempty,oneof=virtual webcamcv2 webcamv4l picamera2 gphoto2 digicamcontrol wigglecam"`

	RetryCapture                 int     `json:"retry_capture" validate:"gte=1,lte=10"`
	CountdownCameraCaptureOffset float64 `json:"countdown_camera_capture_offset" validate:"gte=0"`

	Virtual        GroupBackendVirtual        `json:"virtual"`
	WebcamCv2      GroupBackendWebcamCv2      `json:"webcamcv2"`
	WebcamV4L      GroupBackendWebcamV4L      `json:"webcamv4l"`
	Picamera2      GroupBackendPicamera2      `json:"picamera2"`
	GPhoto2        GroupBackendGPhoto2        `json:"gphoto2"`
	DigiCamControl GroupBackendDigiCamControl `json:"digicamcontrol"`
	Wigglecam      GroupBackendWigglecam      `json:"wigglecam"`
}

type GroupBackendVirtual struct {
	Framerate                int     `json:"framerate" validate:"gte=1,lte=60"`
	EmulateCameraDelayStillS float64 `json:"emulate_camera_delay_still_s" validate:"gte=0"`
	Width                    int     `json:"width" validate:"gte=64"`
	Height                   int     `json:"height" validate:"gte=64"`
}

type GroupBackendWebcamCv2 struct {
	DeviceIndex     int `json:"device_index" validate:"gte=0"`
	CamResolutionW  int `json:"cam_resolution_w" validate:"gte=0"`
	CamResolutionH  int `json:"cam_resolution_h" validate:"gte=0"`
	WatchdogSeconds int `json:"watchdog_seconds" validate:"gte=1"`
}

type GroupBackendWebcamV4L struct {
	DevicePath      string `json:"device_path"`
	CamResolutionW  int    `json:"cam_resolution_w" validate:"gte=0"`
	CamResolutionH  int    `json:"cam_resolution_h" validate:"gte=0"`
	WatchdogSeconds int    `json:"watchdog_seconds" validate:"gte=1"`
}

type GroupBackendPicamera2 struct {
	// capture happens via argv, never a shell string
	StillBinary     string `json:"still_binary"`
	VideoBinary     string `json:"video_binary"`
	CameraNum       int    `json:"camera_num" validate:"gte=0"`
	CaptureWidth    int    `json:"capture_width" validate:"gte=0"`
	CaptureHeight   int    `json:"capture_height" validate:"gte=0"`
	WatchdogSeconds int    `json:"watchdog_seconds" validate:"gte=1"`
}

type GroupBackendGPhoto2 struct {
	// capture happens via argv, never a shell string
	Binary          string `json:"binary"`
	WatchdogSeconds int    `json:"watchdog_seconds" validate:"gte=1"`
}

type GroupBackendDigiCamControl struct {
	BaseURL         string `json:"base_url" validate:"omitempty,url"`
	WatchdogSeconds int    `json:"watchdog_seconds" validate:"gte=1"`
}

type GroupBackendWigglecam struct {
	NodeBaseURLs    []string `json:"node_base_urls" validate:"dive,url"`
	WatchdogSeconds int      `json:"watchdog_seconds" validate:"gte=1"`
}

type GroupMediaprocessing struct {
	HiresStillQuality     int `json:"hires_still_quality" validate:"gte=10,lte=100"`
	FullStillWidth        int `json:"full_still_width" validate:"gte=200"`
	FullStillQuality      int `json:"full_still_quality" validate:"gte=10,lte=100"`
	PreviewStillWidth     int `json:"preview_still_width" validate:"gte=100"`
	PreviewStillQuality   int `json:"preview_still_quality" validate:"gte=10,lte=100"`
	ThumbnailStillWidth   int `json:"thumbnail_still_width" validate:"gte=50"`
	ThumbnailStillQuality int `json:"thumbnail_still_quality" validate:"gte=10,lte=100"`

	RemoveChromakeyEnable    bool `json:"removechromakey_enable"`
	RemoveChromakeyKeycolor  int  `json:"removechromakey_keycolor" validate:"gte=0,lte=360"`
	RemoveChromakeyTolerance int  `json:"removechromakey_tolerance" validate:"gte=1,lte=90"`
}

type TextConfig struct {
	Text     string `json:"text"`
	PosX     int    `json:"pos_x" validate:"gte=0"`
	PosY     int    `json:"pos_y" validate:"gte=0"`
	Rotate   int    `json:"rotate"`
	FontSize int    `json:"font_size" validate:"gte=4"`
	Font     string `json:"font"`
	Color    string `json:"color"`
}

type CollageMergeDefinition struct {
	PosX            int    `json:"pos_x" validate:"gte=0"`
	PosY            int    `json:"pos_y" validate:"gte=0"`
	Width           int    `json:"width" validate:"gte=1"`
	Height          int    `json:"height" validate:"gte=1"`
	Rotate          int    `json:"rotate"`
	PredefinedImage string `json:"predefined_image"`
	Filter          string `json:"filter"`
}

type AnimationMergeDefinition struct {
	DurationMs      int    `json:"duration_ms" validate:"gte=10"`
	PredefinedImage string `json:"predefined_image"`
	Filter          string `json:"filter"`
}

// SinglePictureDefinition is the per-capture processing snapshot that travels
// with every MediaItem so derived artifacts can be regenerated later.
type SinglePictureDefinition struct {
	Filter               string       `json:"filter"`
	FillBackgroundEnable bool         `json:"fill_background_enable"`
	FillBackgroundColor  string       `json:"fill_background_color"`
	ImgBackgroundEnable  bool         `json:"img_background_enable"`
	ImgBackgroundFile    string       `json:"img_background_file"`
	ImgFrameEnable       bool         `json:"img_frame_enable"`
	ImgFrameFile         string       `json:"img_frame_file"`
	TextsEnable          bool         `json:"texts_enable"`
	Texts                []TextConfig `json:"texts"`
}

type SingleImageJobControl struct {
	CountdownCapture float64 `json:"countdown_capture" validate:"gte=0"`
}

type MultiImageJobControl struct {
	CountdownCapture                float64 `json:"countdown_capture" validate:"gte=0"`
	CountdownCaptureSecondFollowing float64 `json:"countdown_capture_second_following" validate:"gte=0"`
	AskApprovalEachCapture          bool    `json:"ask_approval_each_capture"`
	ApproveAutoconfirmTimeout       float64 `json:"approve_autoconfirm_timeout" validate:"gte=1"`
	GalleryHideIndividualImages     bool    `json:"gallery_hide_individual_images"`
}

type SingleImageConfigurationSet struct {
	Name       string                  `json:"name" validate:"required"`
	JobControl SingleImageJobControl   `json:"jobcontrol"`
	Processing SinglePictureDefinition `json:"processing"`
}

type CollageProcessing struct {
	CanvasWidth              int                      `json:"canvas_width" validate:"gte=100"`
	CanvasHeight             int                      `json:"canvas_height" validate:"gte=100"`
	MergeDefinition          []CollageMergeDefinition `json:"merge_definition" validate:"min=1,dive"`
	CanvasFillBackground     bool                     `json:"canvas_fill_background_enable"`
	CanvasFillBackgroundCol  string                   `json:"canvas_fill_background_color"`
	CanvasImgBackgroundFile  string                   `json:"canvas_img_background_file"`
	CanvasImgFrontEnable     bool                     `json:"canvas_img_front_enable"`
	CanvasImgFrontFile       string                   `json:"canvas_img_front_file"`
	CanvasTextsEnable        bool                     `json:"canvas_texts_enable"`
	CanvasTexts              []TextConfig             `json:"canvas_texts"`
	CaptureFillBackground    bool                     `json:"capture_fill_background_enable"`
	CaptureFillBackgroundCol string                   `json:"capture_fill_background_color"`
}

type CollageConfigurationSet struct {
	Name       string               `json:"name" validate:"required"`
	JobControl MultiImageJobControl `json:"jobcontrol"`
	Processing CollageProcessing    `json:"processing"`
}

type AnimationProcessing struct {
	CanvasWidth     int                        `json:"canvas_width" validate:"gte=100"`
	CanvasHeight    int                        `json:"canvas_height" validate:"gte=100"`
	MergeDefinition []AnimationMergeDefinition `json:"merge_definition" validate:"min=2,dive"`
}

type AnimationConfigurationSet struct {
	Name       string               `json:"name" validate:"required"`
	JobControl MultiImageJobControl `json:"jobcontrol"`
	Processing AnimationProcessing  `json:"processing"`
}

type VideoProcessing struct {
	VideoDurationS int     `json:"video_duration_s" validate:"gte=1,lte=60"`
	Boomerang      bool    `json:"boomerang"`
	BoomerangSpeed float64 `json:"boomerang_speed" validate:"gte=0.25,lte=4"`
	VideoFramerate int     `json:"video_framerate" validate:"gte=5,lte=60"`
}

type VideoConfigurationSet struct {
	Name       string                `json:"name" validate:"required"`
	JobControl SingleImageJobControl `json:"jobcontrol"`
	Processing VideoProcessing       `json:"processing"`
}

type MulticameraProcessing struct {
	AnimationDurationMs int `json:"animation_duration_ms" validate:"gte=10"`
}

type MulticameraConfigurationSet struct {
	Name       string                `json:"name" validate:"required"`
	JobControl MultiImageJobControl  `json:"jobcontrol"`
	Processing MulticameraProcessing `json:"processing"`
}

type GroupActions struct {
	Image       []SingleImageConfigurationSet `json:"image" validate:"min=1,dive"`
	Collage     []CollageConfigurationSet     `json:"collage" validate:"dive"`
	Animation   []AnimationConfigurationSet   `json:"animation" validate:"dive"`
	Video       []VideoConfigurationSet       `json:"video" validate:"dive"`
	Multicamera []MulticameraConfigurationSet `json:"multicamera" validate:"dive"`
}

type ShareAction struct {
	Name            string   `json:"name" validate:"required"`
	CommandTemplate []string `json:"command_template" validate:"min=1"`
	TimeoutS        int      `json:"timeout_s" validate:"gte=1,lte=120"`
	BlockedTimeS    int      `json:"blocked_time_s" validate:"gte=0"`
	MaxShares       int      `json:"max_shares" validate:"gte=0"`
}

type GroupShare struct {
	SharingEnabled bool          `json:"sharing_enabled"`
	Actions        []ShareAction `json:"actions" validate:"dive"`
}

type GroupUISettings struct {
	LivestreamMirrorEffect bool `json:"livestream_mirror_effect"`
}

type GroupCollection struct {
	RecycleEnabled      bool `json:"recycle_enabled"`
	RetainCollageImages bool `json:"retain_collage_images"`
	KeepConfigBackups   int  `json:"keep_config_backups" validate:"gte=1,lte=50"`
}

var validate = validator.New()

// Validate checks the whole tree; a config failing validation is rejected at
// load time and the caller falls back to defaults.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func Default() AppConfig {
	return AppConfig{
		Common: GroupCommon{
			LivestreamFramerate:  15,
			LivestreamEnable:     true,
			LogsKeepDays:         7,
			InformationIntervalS: 2,
		},
		Backends: GroupBackends{
			MainBackend:                  "virtual",
			LiveBackend:                  "",
			RetryCapture:                 3,
			CountdownCameraCaptureOffset: 0.2,
			Virtual: GroupBackendVirtual{
				Framerate: 15,
				Width:     640,
				Height:    480,
			},
			WebcamCv2:      GroupBackendWebcamCv2{DeviceIndex: 0, WatchdogSeconds: 5},
			WebcamV4L:      GroupBackendWebcamV4L{DevicePath: "/dev/video0", WatchdogSeconds: 5},
			Picamera2:      GroupBackendPicamera2{StillBinary: "rpicam-still", VideoBinary: "rpicam-vid", WatchdogSeconds: 10},
			GPhoto2:        GroupBackendGPhoto2{Binary: "gphoto2", WatchdogSeconds: 10},
			DigiCamControl: GroupBackendDigiCamControl{BaseURL: "http://127.0.0.1:5513", WatchdogSeconds: 10},
			Wigglecam:      GroupBackendWigglecam{WatchdogSeconds: 10},
		},
		Mediaprocessing: GroupMediaprocessing{
			HiresStillQuality:        90,
			FullStillWidth:           1500,
			FullStillQuality:         85,
			PreviewStillWidth:        900,
			PreviewStillQuality:      80,
			ThumbnailStillWidth:      400,
			ThumbnailStillQuality:    60,
			RemoveChromakeyKeycolor:  110,
			RemoveChromakeyTolerance: 10,
		},
		Actions: GroupActions{
			Image: []SingleImageConfigurationSet{
				{
					Name:       "default image",
					JobControl: SingleImageJobControl{CountdownCapture: 3},
					Processing: SinglePictureDefinition{Filter: "original"},
				},
			},
			Collage: []CollageConfigurationSet{
				{
					Name: "default collage",
					JobControl: MultiImageJobControl{
						CountdownCapture:                3,
						CountdownCaptureSecondFollowing: 2,
						AskApprovalEachCapture:          false,
						ApproveAutoconfirmTimeout:       15,
					},
					Processing: CollageProcessing{
						CanvasWidth:  1920,
						CanvasHeight: 1280,
						MergeDefinition: []CollageMergeDefinition{
							{PosX: 40, PosY: 100, Width: 880, Height: 520, Filter: "original"},
							{PosX: 1000, PosY: 100, Width: 880, Height: 520, Filter: "original"},
							{PosX: 520, PosY: 660, Width: 880, Height: 520, Filter: "original"},
						},
						CanvasFillBackground:    true,
						CanvasFillBackgroundCol: "#ffffff",
					},
				},
			},
			Animation: []AnimationConfigurationSet{
				{
					Name: "default animation",
					JobControl: MultiImageJobControl{
						CountdownCapture:                3,
						CountdownCaptureSecondFollowing: 1,
						ApproveAutoconfirmTimeout:       15,
					},
					Processing: AnimationProcessing{
						CanvasWidth:  600,
						CanvasHeight: 400,
						MergeDefinition: []AnimationMergeDefinition{
							{DurationMs: 600, Filter: "original"},
							{DurationMs: 600, Filter: "original"},
							{DurationMs: 600, Filter: "original"},
							{DurationMs: 1500, Filter: "original"},
						},
					},
				},
			},
			Video: []VideoConfigurationSet{
				{
					Name:       "default video",
					JobControl: SingleImageJobControl{CountdownCapture: 3},
					Processing: VideoProcessing{VideoDurationS: 5, BoomerangSpeed: 1, VideoFramerate: 25},
				},
			},
			Multicamera: []MulticameraConfigurationSet{
				{
					Name: "default wigglegram",
					JobControl: MultiImageJobControl{
						CountdownCapture:            3,
						ApproveAutoconfirmTimeout:   15,
						GalleryHideIndividualImages: true,
					},
					Processing: MulticameraProcessing{AnimationDurationMs: 125},
				},
			},
		},
		Share: GroupShare{
			Actions: []ShareAction{
				{
					Name:            "print",
					CommandTemplate: []string{"echo", "{filename}"},
					TimeoutS:        6,
					BlockedTimeS:    10,
					MaxShares:       0,
				},
			},
		},
		Collection: GroupCollection{
			RecycleEnabled:      true,
			RetainCollageImages: true,
			KeepConfigBackups:   10,
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// LoadPaths resolves the persisted directory layout relative to the working
// directory, honoring environment overrides.
func LoadPaths() (Paths, error) {
	wd := getEnvOrDefault("WORKING_DIRECTORY", ".")
	absWd, err := filepath.Abs(wd)
	if err != nil {
		return Paths{}, fmt.Errorf("failed to get absolute path for working directory '%s': %w", wd, err)
	}

	p := Paths{
		WorkingDir:  absWd,
		ConfigDir:   filepath.Join(absWd, getEnvOrDefault("CONFIG_SUBDIR", DefaultConfigSubDir)),
		MediaDir:    filepath.Join(absWd, getEnvOrDefault("MEDIA_SUBDIR", DefaultMediaSubDir)),
		LogDir:      filepath.Join(absWd, getEnvOrDefault("LOG_SUBDIR", DefaultLogSubDir)),
		UserdataDir: filepath.Join(absWd, getEnvOrDefault("USERDATA_SUBDIR", DefaultUserdataSubDir)),
	}
	p.DatabasePath = getEnvOrDefault("DATABASE_PATH", filepath.Join(absWd, "photobooth.db"))

	return p, nil
}

// UserFile resolves a user asset (frame, background, font) below the
// userdata directory and rejects path traversal out of it.
func (p Paths) UserFile(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty userdata filename")
	}
	full := filepath.Join(p.UserdataDir, filepath.Clean("/"+name))
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("userdata file '%s' not found: %w", name, err)
	}
	return full, nil
}
