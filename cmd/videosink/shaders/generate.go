// Package shaders holds the GLSL sources of the video shaders. The compiled
// SPIR-V is packed into the videosink binary with packr.
package shaders

//go:generate glslc -o video.vert.spv video.vert
//go:generate glslc -o video.frag.spv video.frag
