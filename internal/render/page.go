package render

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
)

// DefaultLottieScriptURL is where the lottie-web player is downloaded from.
const DefaultLottieScriptURL = "https://cdnjs.cloudflare.com/ajax/libs/lottie-web/5.12.2/lottie.min.js"

var colorPattern = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|[a-zA-Z]+|rgba?\([0-9., %]+\))$`)

// ValidColor reports whether c is an acceptable CSS background color.
func ValidColor(c string) bool {
	return colorPattern.MatchString(c)
}

// pageURL builds a data URL for an empty stage of the given size. The player
// script is injected after navigation.
func pageURL(background string, width, height int) string {
	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
html, body { margin: 0; padding: 0; overflow: hidden; background: %[1]s; }
#stage { width: %[2]dpx; height: %[3]dpx; background: %[1]s; }
</style>
</head>
<body><div id="stage"></div></body>
</html>`, background, width, height)
	return "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(html))
}

// playerScript evaluates the lottie-web source and reports whether it
// registered the global player.
func playerScript(src string) string {
	return src + "\n;typeof lottie !== 'undefined'"
}

// loadScript builds the expression that mounts the animation on the stage.
// doc must already be valid JSON.
func loadScript(doc []byte) string {
	return fmt.Sprintf(`(function () {
  window.__anim = lottie.loadAnimation({
    container: document.getElementById('stage'),
    renderer: 'svg',
    loop: false,
    autoplay: false,
    animationData: %s,
    rendererSettings: { preserveAspectRatio: 'xMidYMid meet' }
  });
  return true;
})()`, doc)
}

func seekScript(frame float64) string {
	return fmt.Sprintf(`(window.__anim.goToAndStop(%s, true), true)`, strconv.FormatFloat(frame, 'f', -1, 64))
}
